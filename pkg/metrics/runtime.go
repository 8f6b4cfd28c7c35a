package metrics

import (
	"runtime"
	"time"
)

// CollectRuntime samples Go runtime stats into prefixed gauges, once
// immediately and then every interval for the life of the process.
func (r *Registry) CollectRuntime(prefix string, interval time.Duration) {
	goroutines := r.Gauge(prefix+"_goroutines", "Live goroutines.")
	heapAlloc := r.Gauge(prefix+"_heap_alloc_bytes", "Bytes of allocated heap objects.")
	heapSys := r.Gauge(prefix+"_heap_sys_bytes", "Heap bytes obtained from the OS.")
	gcCycles := r.Gauge(prefix+"_gc_cycles", "Completed GC cycles.")
	start := time.Now()
	uptime := r.Gauge(prefix+"_uptime_seconds", "Seconds since the process started.")

	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(int64(runtime.NumGoroutine()))
		heapAlloc.Set(int64(ms.HeapAlloc))
		heapSys.Set(int64(ms.HeapSys))
		gcCycles.Set(int64(ms.NumGC))
		uptime.Set(int64(time.Since(start).Seconds()))
	}
	sample()

	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for range tick.C {
			sample()
		}
	}()
}
