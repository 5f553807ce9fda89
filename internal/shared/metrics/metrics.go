package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	mergeStartedTotal   atomic.Uint64
	mergeCompletedTotal atomic.Uint64
	mergeFailedTotal    atomic.Uint64
	slidesAppendedTotal atomic.Uint64
	uploadBytesTotal    atomic.Uint64

	mergeDuration = newHistogram([]float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000})
)

// IncMergeStarted increments the started counter.
func IncMergeStarted() {
	mergeStartedTotal.Add(1)
}

// IncMergeCompleted increments the completed counter.
func IncMergeCompleted() {
	mergeCompletedTotal.Add(1)
}

// IncMergeFailed increments the failed counter.
func IncMergeFailed() {
	mergeFailedTotal.Add(1)
}

// AddSlidesAppended adds n to the appended-slides counter.
func AddSlidesAppended(n int) {
	if n > 0 {
		slidesAppendedTotal.Add(uint64(n))
	}
}

// AddUploadBytes adds n received upload bytes.
func AddUploadBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.Add(uint64(n))
	}
}

// ObserveMergeDurationMs records a merge job duration in milliseconds.
func ObserveMergeDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	mergeDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "merge_jobs_started_total", "Total merge jobs started", mergeStartedTotal.Load())
	writeCounter(&buf, "merge_jobs_completed_total", "Total merge jobs that produced an output", mergeCompletedTotal.Load())
	writeCounter(&buf, "merge_jobs_failed_total", "Total merge jobs that failed", mergeFailedTotal.Load())
	writeCounter(&buf, "merge_slides_appended_total", "Total slides appended to merged outputs", slidesAppendedTotal.Load())
	writeCounter(&buf, "merge_upload_bytes_total", "Total bytes received in merge uploads", uploadBytesTotal.Load())
	writeHistogram(&buf, "merge_job_duration_ms", "Merge job duration in milliseconds", mergeDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts value in the first bucket whose bound holds it; cumulative
// totals are computed at render time.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
