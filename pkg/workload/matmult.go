// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workload

import (
	"github.com/pkg/errors"

	"github.com/intel/vmcore/pkg/vm"
)

const (
	// MatmultDim is the matrix dimension of the reference run. Its data
	// does not fit in the largest physical memory.
	MatmultDim = 72
	// MatmultAnswer is the trace computed by the reference run.
	MatmultAnswer = 8772192
)

// MatmultExpected returns the trace matmult computes for dimension dim.
func MatmultExpected(dim int) int32 {
	return int32(dim * (dim - 1) * dim * (2*dim - 1) / 6)
}

// Matmult multiplies A[i][j] = i by B[i][j] = j through a temporary
// T[i][j][k] = A[i][k] * B[k][j], all laid out from DataBase, and returns
// the trace of the product.
func Matmult(th *vm.Thread, dim int) (int32, error) {
	if dim < 1 {
		return 0, errors.Errorf("invalid matrix dimension %d", dim)
	}

	n := vm.Vaddr(4 * dim * dim)
	a := DataBase
	b := a + n
	c := b + n
	t := c + n
	size := int(3*n) + dim*int(n)

	as := th.AddressSpace()
	if err := as.PrepareLoad(DataBase, size, vm.ProtRead|vm.ProtWrite, vm.TempFixed, vm.GetEntry); err != nil {
		return 0, errors.Wrap(err, "failed to set up data region")
	}
	log.Debug("%s: matmult %dx%d, %d pages of data", as, dim, dim, (size+vm.PageSize-1)/vm.PageSize)

	mem := &memory{th: th}
	at := func(base vm.Vaddr, idx ...int) vm.Vaddr {
		i := 0
		for _, x := range idx {
			i = i*dim + x
		}
		return base + vm.Vaddr(4*i)
	}

	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			mem.store(at(a, i, j), int32(i))
			mem.store(at(b, i, j), int32(j))
			mem.store(at(c, i, j), 0)
		}
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				mem.store(at(t, i, j, k), mem.load(at(a, i, k))*mem.load(at(b, k, j)))
			}
		}
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				mem.store(at(c, i, j), mem.load(at(c, i, j))+mem.load(at(t, i, j, k)))
			}
		}
	}
	var r int32
	for i := 0; i < dim; i++ {
		r += mem.load(at(c, i, i))
	}
	if mem.err != nil {
		return 0, mem.err
	}

	if expected := MatmultExpected(dim); r != expected {
		return r, errors.Errorf("wrong answer %d, expected %d", r, expected)
	}
	return r, nil
}
