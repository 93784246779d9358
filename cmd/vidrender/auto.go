package main

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// autoParallel picks an instance count for this machine: one per logical CPU,
// capped by how many instances of instanceMemMB fit in available memory.
func autoParallel(instanceMemMB int) int {
	cpus, err := cpu.Counts(true)
	if err != nil || cpus < 1 {
		cpus = runtime.NumCPU()
	}
	var avail uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		avail = vm.Available
	}
	return parallelFor(cpus, avail, uint64(instanceMemMB)<<20)
}

func parallelFor(cpus int, availBytes, perInstance uint64) int {
	n := cpus
	if perInstance > 0 && availBytes > 0 {
		if byMem := int(availBytes / perInstance); byMem < n {
			n = byMem
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}
