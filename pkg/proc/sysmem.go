// Copyright 2026 The lowmemd Authors
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

package proc

import (
	"github.com/pingcap/errors"
	"github.com/shirou/gopsutil/v3/mem"
)

// TotalMemoryKB returns the total physical memory of the host in KB. Used
// for configuration sanity checks, never for kill decisions.
func TotalMemoryKB() (int64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int64(vm.Total / 1024), nil
}
