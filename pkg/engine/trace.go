package engine

import "github.com/fillien/schedsim/pkg/simtime"

// Writer is the engine's trace sink contract (spec.md §4.12). A nil Writer
// makes Trace a zero-overhead no-op; callers should still build the closure
// lazily (Engine.Trace only invokes it when a writer is installed).
type Writer interface {
	Begin(time simtime.TimePoint, recordType string) Record
}

// Record accumulates typed fields for one trace record before End flushes
// it to the underlying sink.
type Record interface {
	Field(key string, value interface{}) Record
	End()
}

// SetTraceWriter installs w as the engine's trace sink. Pass nil to disable
// tracing.
func (e *Engine) SetTraceWriter(w Writer) {
	e.traceWriter = w
}

// Trace emits one trace record of the given type at the engine's current
// time, if a trace writer is installed. build is called with a Record to
// populate its fields; it is never called when tracing is disabled.
func (e *Engine) Trace(recordType string, build func(r Record)) {
	if e.traceWriter == nil {
		return
	}
	r := e.traceWriter.Begin(e.currentTime, recordType)
	build(r)
	r.End()
}
