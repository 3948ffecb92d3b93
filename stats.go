package goheap

import "os"

import "github.com/bnclabs/golog"
import "github.com/cloudfoundry/gosigar"
import humanize "github.com/dustin/go-humanize"

// Stats return memory accounting for the process-wide heaps along
// with system and process memory as seen by the OS.
func Stats() map[string]interface{} {
	stats := make(map[string]interface{})

	capacity, heap, alloc, overhead := Manual().Info()
	stats["manual.capacity"] = capacity
	stats["manual.heap"] = heap
	stats["manual.alloc"] = alloc
	stats["manual.overhead"] = overhead

	w := getworld()
	if w.compactheap != nil {
		capacity, heap, alloc, overhead = w.compactheap.Info()
	} else {
		capacity, heap, alloc, overhead = w.sweepheap.Info()
	}
	stats["gc.collector"] = w.collector
	stats["gc.capacity"] = capacity
	stats["gc.heap"] = heap
	stats["gc.alloc"] = alloc
	stats["gc.overhead"] = overhead
	stats["gc.roots"] = w.rt.Len()

	mem := sigar.Mem{}
	if err := mem.Get(); err == nil {
		stats["sys.memtotal"] = int64(mem.Total)
		stats["sys.memfree"] = int64(mem.Free)
	}
	procmem := sigar.ProcMem{}
	if err := procmem.Get(os.Getpid()); err == nil {
		stats["sys.resident"] = int64(procmem.Resident)
	}
	return stats
}

// LogStats log a human readable one-liner of the heap footprint.
func LogStats() {
	stats := Stats()
	arg1 := humanize.Bytes(uint64(stats["manual.alloc"].(int64)))
	arg2 := humanize.Bytes(uint64(stats["gc.alloc"].(int64)))
	if resident, ok := stats["sys.resident"]; ok {
		arg3 := humanize.Bytes(uint64(resident.(int64)))
		log.Infof("goheap manual:%v gc:%v resident:%v\n", arg1, arg2, arg3)
		return
	}
	log.Infof("goheap manual:%v gc:%v\n", arg1, arg2)
}
