package recorder

import "time"

// FetchRecord summarizes one completed acquisition for the history trail.
type FetchRecord struct {
	Symbol        string
	Interval      string
	Bars          int
	CurrentPrice  float64
	Change        float64
	ChangePercent float64
	SessionType   string
	MarketPhase   string
	FetchedAt     time.Time
	DurationMs    int64
}

// Recorder persists fetch history for later analysis.
type Recorder interface {
	RecordFetch(rec *FetchRecord) error
	Close() error
}

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordFetch(_ *FetchRecord) error { return nil }
func (n *NoopRecorder) Close() error                     { return nil }
