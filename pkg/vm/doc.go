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

// Package vm implements the demand-paged virtual memory core of a small
// single-core kernel running on a simulated machine.
//
// The Manager owns physical memory and its coremap, the TLB and every
// address space. Address spaces use two-level page tables whose secondary
// tables live in kernel pages. Frames are reclaimed with a clock algorithm
// and evicted pages are written to a per address space swap file.
//
// All coremap, page table and TLB state is protected by a single manager
// wide lock standing in for raised interrupt priority. The lock is dropped
// only for swap I/O and while waiting on a condition; code resuming after
// such a point re-validates whatever it read before suspending.
package vm
