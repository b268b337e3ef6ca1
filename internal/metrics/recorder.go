package metrics

import "time"

// Recorder receives server events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordRequest records one completed HTTP request.
	RecordRequest(route string, status int, duration time.Duration)

	// AddBytesServed counts payload bytes sent to clients. kind is one of
	// "whole", "range", "archive" or "share".
	AddBytesServed(kind string, n int64)

	// RecordArchiveEntry counts one file written into a directory archive.
	RecordArchiveEntry()

	// RecordTask counts copy/move task events: admitted, rejected,
	// succeeded or failed.
	RecordTask(event string)
	ObserveTaskDuration(d time.Duration)

	// RecordSearch records one search and the number of hits it returned.
	RecordSearch(results int, duration time.Duration)

	// RecordRateLimited counts a request refused by the rate limiter.
	RecordRateLimited(route string)
}

type noop struct{}

// NewNoop returns a Recorder that discards everything.
func NewNoop() Recorder { return noop{} }

func (noop) RecordRequest(string, int, time.Duration) {}
func (noop) AddBytesServed(string, int64)             {}
func (noop) RecordArchiveEntry()                      {}
func (noop) RecordTask(string)                        {}
func (noop) ObserveTaskDuration(time.Duration)        {}
func (noop) RecordSearch(int, time.Duration)          {}
func (noop) RecordRateLimited(string)                 {}
