package resource

import (
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
)

const cgroupLimitPath = "/sys/fs/cgroup/memory.max"

// RuntimeMonitor reports Go heap usage against a memory ceiling.
type RuntimeMonitor struct {
	limit uint64
	read  func() uint64
}

// NewRuntimeMonitor picks the ceiling from limitBytes, then the runtime soft
// limit (GOMEMLIMIT), then the cgroup v2 limit. A zero ceiling disables
// pressure checks.
func NewRuntimeMonitor(limitBytes uint64) *RuntimeMonitor {
	limit := limitBytes
	if limit == 0 {
		limit = runtimeLimit()
	}
	if limit == 0 {
		limit = cgroupLimit(cgroupLimitPath)
	}
	return &RuntimeMonitor{limit: limit, read: heapInUse}
}

// Limit returns the ceiling in bytes.
func (m *RuntimeMonitor) Limit() uint64 {
	return m.limit
}

func (m *RuntimeMonitor) Sample() batch.MemorySample {
	return batch.MemorySample{UsedBytes: m.read(), LimitBytes: m.limit}
}

// Reclaim forces a collection and returns freed pages to the OS.
func (m *RuntimeMonitor) Reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}

func heapInUse() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapInuse + stats.StackInuse
}

func runtimeLimit() uint64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}
	return uint64(limit)
}

func cgroupLimit(path string) uint64 {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "max" {
		return 0
	}
	limit, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return limit
}

var _ batch.ResourceMonitor = (*RuntimeMonitor)(nil)
