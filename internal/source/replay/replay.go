// Package replay reads recorded events from newline-delimited JSON.
//
// One event per line:
//
//	{"source":"10.0.0.7","features":{"packet_rate":812,"syn_ratio":0.7},"at":"2024-05-01T10:00:00Z"}
//
// Missing feature channels are zero; a missing "at" leaves the event
// unstamped so the consumer uses its own clock.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"firestige.xyz/floodgate/internal/core"
)

// Record is the on-disk form of an event.
type Record struct {
	Source   string             `json:"source"`
	Features map[string]float64 `json:"features"`
	At       time.Time          `json:"at,omitzero"`
}

// Source yields events from a JSONL stream.
type Source struct {
	name   string
	closer io.Closer

	mu      sync.Mutex
	scanner *bufio.Scanner
	line    int
}

// Open opens a replay file.
func Open(path string) (*Source, error) {
	if path == "" {
		return nil, core.NewConfigError("source.replay_file", "is required for the replay source")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file %s: %w", path, err)
	}
	s := NewReader(f, path)
	s.closer = f
	return s, nil
}

// NewReader reads events from r. name is used in error messages.
func NewReader(r io.Reader, name string) *Source {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Source{name: name, scanner: sc}
}

// Next returns the next event, io.EOF at the end of the stream. Blank lines
// are skipped; a malformed line is an error naming its line number.
func (s *Source) Next(ctx context.Context) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return core.Event{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return core.Event{}, fmt.Errorf("failed to read %s: %w", s.name, err)
			}
			return core.Event{}, io.EOF
		}
		s.line++
		raw := s.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		ev, err := decode(raw)
		if err != nil {
			return core.Event{}, fmt.Errorf("%s:%d: %w", s.name, s.line, err)
		}
		return ev, nil
	}
}

// Close releases the underlying file, if any.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func decode(raw []byte) (core.Event, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return core.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	if rec.Source == "" {
		return core.Event{}, fmt.Errorf("invalid event: source is empty")
	}
	fv, err := core.FeatureVectorFromMap(rec.Features)
	if err != nil {
		return core.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return core.Event{Source: core.Source(rec.Source), Features: fv, At: rec.At}, nil
}

// Encoder writes events in replay format.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes ev as one line.
func (e *Encoder) Encode(ev core.Event) error {
	return e.enc.Encode(Record{
		Source:   string(ev.Source),
		Features: ev.Features.Map(),
		At:       ev.At,
	})
}
