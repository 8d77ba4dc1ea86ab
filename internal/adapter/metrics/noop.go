package metrics

import "github.com/qapish/labman/internal/core/ports"

// NoopRecorder discards every observation. It is wired in when metrics are
// disabled so call sites never have to check for nil.
type NoopRecorder struct{}

var _ ports.MetricsRecorder = (*NoopRecorder)(nil)

func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

func (NoopRecorder) RecordRequestStart(endpoint, model string) {}

func (NoopRecorder) RecordRequestEnd(endpoint, model string, success bool, latencySeconds float64) {
}

func (NoopRecorder) RecordError(endpoint, kind string) {}

func (NoopRecorder) SetActiveRequests(n int64) {}
