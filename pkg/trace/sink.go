// Package trace implements the canonical JSON trace record stream (spec.md
// §4.12, §6): an engine.Writer that serializes each record as it is built,
// plus a loader for consuming a written trace back (pkg/analyzer, and trace
// round-trip tests).
package trace

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/simtime"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink streams trace records to w as a single JSON array, one record per
// engine.Trace call, in the chronological order the engine invokes
// Begin/Field/End (spec.md §8 property 2: deterministic dispatch makes this
// stream byte-identical across runs of identical inputs).
type Sink struct {
	w      io.Writer
	opened bool
	err    error
}

// NewSink returns a Sink writing a JSON array of records to w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Begin starts a new record at time, of the given type, satisfying
// engine.Writer.
func (s *Sink) Begin(time simtime.TimePoint, recordType string) engine.Record {
	return &record{sink: s, fields: []field{{"time", time.Sub(simtime.Epoch).Seconds()}, {"type", recordType}}}
}

// Close terminates the JSON array. Call once after the run completes.
func (s *Sink) Close() error {
	if s.err != nil {
		return s.err
	}
	if !s.opened {
		_, err := io.WriteString(s.w, "[]\n")
		return err
	}
	_, err := io.WriteString(s.w, "\n]\n")
	return err
}

type field struct {
	key   string
	value interface{}
}

type record struct {
	sink   *Sink
	fields []field
}

func (r *record) Field(key string, value interface{}) engine.Record {
	r.fields = append(r.fields, field{key, value})
	return r
}

func (r *record) End() {
	r.sink.write(r.fields)
}

func (s *Sink) write(fields []field) {
	if s.err != nil {
		return
	}
	if !s.opened {
		if _, err := io.WriteString(s.w, "[\n"); err != nil {
			s.err = err
			return
		}
		s.opened = true
	} else {
		if _, err := io.WriteString(s.w, ",\n"); err != nil {
			s.err = err
			return
		}
	}
	stream := api.BorrowStream(s.w)
	defer api.ReturnStream(stream)
	stream.WriteObjectStart()
	for i, f := range fields {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(f.key)
		stream.WriteVal(f.value)
	}
	stream.WriteObjectEnd()
	if err := stream.Flush(); err != nil {
		s.err = err
		return
	}
	s.err = stream.Error
}

// Record is one decoded trace entry, as read back by Load.
type Record struct {
	Time   simtime.TimePoint
	Type   string
	Fields map[string]interface{}
}

// legacyFieldNames are rejected on load: the canonical schema (spec.md §6)
// never uses these, but an original-source "legacy" trace schema did
// (spec.md §9's Open Question on task_id vs tid).
var legacyFieldNames = []string{"tid", "jid", "sid"}

// Load decodes a JSON trace array from r, validating each record carries a
// "time" and "type" and rejecting any legacy field name.
func Load(r io.Reader) ([]Record, error) {
	var raw []map[string]interface{}
	if err := api.NewDecoder(r).Decode(&raw); err != nil {
		return nil, simerrors.LoaderError("trace: %v", err)
	}
	out := make([]Record, 0, len(raw))
	for i, m := range raw {
		t, ok := m["time"].(float64)
		if !ok {
			return nil, simerrors.LoaderError("trace: record %d missing numeric time", i)
		}
		typ, ok := m["type"].(string)
		if !ok || typ == "" {
			return nil, simerrors.LoaderError("trace: record %d missing type", i)
		}
		for _, legacy := range legacyFieldNames {
			if _, present := m[legacy]; present {
				return nil, simerrors.LoaderError("trace: record %d uses legacy field %q, only the canonical schema is accepted", i, legacy)
			}
		}
		delete(m, "time")
		delete(m, "type")
		out = append(out, Record{
			Time:   simtime.Epoch.Add(simtime.FromSeconds(t)),
			Type:   typ,
			Fields: m,
		})
	}
	return out, nil
}

// Float returns the named field as a float64, or ok=false if absent or not
// numeric.
func (r Record) Float(key string) (float64, bool) {
	v, present := r.Fields[key]
	if !present {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Uint returns the named field as a uint64, or ok=false if absent or not
// numeric.
func (r Record) Uint(key string) (uint64, bool) {
	f, ok := r.Float(key)
	if !ok {
		return 0, false
	}
	return uint64(f), true
}

// String returns the named field as a string, or ok=false if absent or not
// a string.
func (r Record) String(key string) (string, bool) {
	v, present := r.Fields[key]
	if !present {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
