package orchestrator

import (
	"fmt"
	"runtime/metrics"
)

// ResourceUsage is a point-in-time process resource sample.
type ResourceUsage struct {
	HeapMB     float64 `json:"heap_mb"`
	Goroutines int     `json:"goroutines"`
}

// Max returns the element-wise maximum of u and o.
func (u ResourceUsage) Max(o ResourceUsage) ResourceUsage {
	if o.HeapMB > u.HeapMB {
		u.HeapMB = o.HeapMB
	}
	if o.Goroutines > u.Goroutines {
		u.Goroutines = o.Goroutines
	}
	return u
}

// Limits caps resource usage during tool execution. Zero fields are
// unlimited.
type Limits struct {
	MaxMemoryMB   float64 `json:"max_memory_mb"`
	MaxGoroutines int     `json:"max_goroutines"`
}

// Exceeded reports whether u is over any limit, and which.
func (l Limits) Exceeded(u ResourceUsage) (bool, string) {
	if l.MaxMemoryMB > 0 && u.HeapMB > l.MaxMemoryMB {
		return true, fmt.Sprintf("heap %.1fMB over limit %.1fMB", u.HeapMB, l.MaxMemoryMB)
	}
	if l.MaxGoroutines > 0 && u.Goroutines > l.MaxGoroutines {
		return true, fmt.Sprintf("%d goroutines over limit %d", u.Goroutines, l.MaxGoroutines)
	}
	return false, ""
}

// ResourceSampler reports current resource usage.
type ResourceSampler interface {
	Sample() ResourceUsage
}

// RuntimeSampler samples the Go runtime through runtime/metrics, which does
// not stop the world.
type RuntimeSampler struct{}

const (
	metricHeapObjects = "/memory/classes/heap/objects:bytes"
	metricGoroutines  = "/sched/goroutines:goroutines"
)

func (RuntimeSampler) Sample() ResourceUsage {
	samples := []metrics.Sample{
		{Name: metricHeapObjects},
		{Name: metricGoroutines},
	}
	metrics.Read(samples)

	var u ResourceUsage
	if samples[0].Value.Kind() == metrics.KindUint64 {
		u.HeapMB = float64(samples[0].Value.Uint64()) / (1 << 20)
	}
	if samples[1].Value.Kind() == metrics.KindUint64 {
		u.Goroutines = int(samples[1].Value.Uint64())
	}
	return u
}
