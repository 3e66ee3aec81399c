package notify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltlabs/tradegate/internal/observ"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: observ.Component("notify")}
}

func (s *LogSink) Publish(ev Event) {
	e := s.log.Info().
		Str("type", string(ev.Type)).
		Str("symbol", ev.Symbol)
	if ev.IntentID != "" {
		e = e.Str("intent_id", ev.IntentID)
	}
	if ev.State != "" {
		e = e.Str("state", string(ev.State))
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	if ev.OrderID != "" {
		e = e.Str("order_id", ev.OrderID)
	}
	e.Msg("intent event")
}

// Outbox appends events as JSON lines to an audit file. The file is the
// durable record reviewers reconcile against broker statements, so writes
// are serialized and fsynced per entry.
type Outbox struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

type outboxEntry struct {
	Event   Event     `json:"event"`
	Written time.Time `json:"written"`
}

func NewOutbox(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Outbox{path: path, log: observ.Component("outbox")}, nil
}

func (o *Outbox) Publish(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := json.Marshal(outboxEntry{Event: ev, Written: time.Now().UTC()})
	if err != nil {
		o.log.Error().Err(err).Msg("marshal outbox entry")
		return
	}

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		o.log.Error().Err(err).Str("path", o.path).Msg("open outbox")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		o.log.Error().Err(err).Msg("append outbox entry")
		return
	}
	if err := f.Sync(); err != nil {
		o.log.Warn().Err(err).Msg("sync outbox")
	}
}

// Recorder is an in-memory sink for tests: it remembers every event in
// order and can answer how many of a type it saw.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) CountOf(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
