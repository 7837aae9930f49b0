package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects a subset of capture events. Zero-value fields match
// everything.
type Filter struct {
	// Direction restricts to one traffic direction.
	Direction *Direction

	// Layer restricts to one capture layer.
	Layer *Layer

	// Category restricts to one event category.
	Category *Category

	// After excludes events at or before this time.
	After time.Time

	// Before excludes events at or after this time.
	Before time.Time
}

func (f *Filter) matches(event Event) bool {
	if f == nil {
		return true
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if !f.After.IsZero() && !event.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !event.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

// Reader iterates events out of a capture file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter *Filter
}

// NewReader opens a capture file for reading. filter may be nil.
func NewReader(path string, filter *Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	return &Reader{
		file:   f,
		dec:    NewDecoder(f),
		filter: filter,
	}, nil
}

// Next returns the next event matching the filter, or io.EOF when the
// capture is exhausted.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.dec.Decode(&event); err != nil {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("decode event: %w", err)
		}
		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// All reads every matching event remaining in the capture.
func (r *Reader) All() ([]Event, error) {
	var events []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
