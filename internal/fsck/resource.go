package fsck

import (
	"fmt"
	"io"
	"runtime"
	"time"
)

// ResourceTracker measures elapsed time and memory for -t.
type ResourceTracker struct {
	start time.Time
	now   func() time.Time
}

// NewResourceTracker starts tracking from now.
func NewResourceTracker(now func() time.Time) *ResourceTracker {
	if now == nil {
		now = time.Now
	}
	return &ResourceTracker{start: now(), now: now}
}

// Print writes the elapsed time and heap usage since the tracker started.
func (t *ResourceTracker) Print(out io.Writer, label string) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	elapsed := t.now().Sub(t.start)
	if label != "" {
		fmt.Fprintf(out, "%s: ", label)
	}
	fmt.Fprintf(out, "Memory used: %d KiB, time: %.2f\n", mem.HeapAlloc/1024, elapsed.Seconds())
}
