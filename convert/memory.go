package convert

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// memoryPerWorkerGB is a rough per-worker budget: one dense array
// assembly plus codec buffers.
const memoryPerWorkerGB = 0.5

// safeWorkerCount recommends a worker count for the available memory.
func safeWorkerCount(availableGB float64) int {
	const memoryBuffer = 1.0 // GB reserved for the rest of the process

	if availableGB < memoryBuffer {
		return 1
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerWorkerGB)
	if recommended < 1 {
		return 1
	}
	return recommended
}

// checkMemoryPressure validates a worker count against available memory.
// Returns a warning message if the count may be too high, empty string
// if OK or if memory stats are unavailable.
func checkMemoryPressure(workers int) string {
	v, err := mem.VirtualMemory()
	if err != nil {
		return ""
	}

	availableGB := float64(v.Available) / 1024 / 1024 / 1024
	totalGB := float64(v.Total) / 1024 / 1024 / 1024
	recommended := safeWorkerCount(availableGB)

	if workers > recommended {
		return fmt.Sprintf(
			"worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB)",
			workers, recommended, availableGB, totalGB)
	}
	return ""
}
