package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/xfer"
)

func TestRegistryRecordsCounters(t *testing.T) {
	r := NewRegistry()
	r.SetQueueDepth(xfer.KindMemcpy, 3)
	r.AddBytesTransferred(xfer.KindMemcpy, 1024)
	r.AddBytesTransferred(xfer.KindMemcpy, 512)

	if got := testutil.ToFloat64(r.queueDepth.WithLabelValues(xfer.KindMemcpy.String())); got != 3 {
		t.Fatalf("queue depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.bytesTransferred.WithLabelValues(xfer.KindMemcpy.String())); got != 1536 {
		t.Fatalf("bytes transferred = %v, want 1536", got)
	}
}

func TestSampleOverheadPublishesSnapshot(t *testing.T) {
	r := NewRegistry()
	ctx := core.NewTopLevelContext(nil)
	r.SampleOverhead("ctx-1", ctx.Overhead())
	if got := testutil.ToFloat64(r.runtimeOverheadNS.WithLabelValues("ctx-1")); got != 0 {
		t.Fatalf("expected zero overhead on a fresh context, got %v", got)
	}
}
