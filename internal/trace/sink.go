package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// Mode selects where a tracer built by New keeps events.
type Mode uint8

const (
	ModeStream Mode = iota + 1
	ModeRing
	ModeBoth
)

var modeNames = []string{"", "stream", "ring", "both"}

func (m Mode) String() string {
	if m > 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

func ParseMode(s string) (Mode, error) {
	i := slices.Index(modeNames, strings.ToLower(s))
	if i <= 0 {
		return ModeStream, fmt.Errorf("invalid trace mode %q (expected stream|ring|both)", s)
	}
	return Mode(i), nil
}

type Config struct {
	Level Level
	Mode  Mode
	// Output overrides OutputPath. An empty path or "-" means stderr; a
	// path ending in .ndjson selects JSON lines.
	Output     io.Writer
	OutputPath string
	JSON       bool
	RingSize   int
}

func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	if cfg.Mode == ModeRing {
		return NewRingTracer(cfg.RingSize, cfg.Level), nil
	}
	w := cfg.Output
	if w == nil {
		switch cfg.OutputPath {
		case "", "-":
			w = os.Stderr
		default:
			f, err := os.Create(cfg.OutputPath)
			if err != nil {
				return nil, fmt.Errorf("open trace output: %w", err)
			}
			w = f
		}
	}
	stream := NewStreamTracer(w, cfg.Level, cfg.JSON || strings.HasSuffix(cfg.OutputPath, ".ndjson"))
	switch cfg.Mode {
	case ModeStream:
		return stream, nil
	case ModeBoth:
		return &fanout{level: cfg.Level, to: []Tracer{stream, NewRingTracer(cfg.RingSize, cfg.Level)}}, nil
	}
	return nil, fmt.Errorf("unknown trace mode %v", cfg.Mode)
}

// StreamTracer writes each event as it arrives, as text or JSON lines.
// Write errors are dropped; tracing never fails a run.
type StreamTracer struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
	json  bool
	seq   uint64
}

func NewStreamTracer(w io.Writer, level Level, jsonLines bool) *StreamTracer {
	return &StreamTracer{w: w, level: level, json: jsonLines}
}

func (t *StreamTracer) Emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	ev.Seq = t.seq
	_, _ = t.w.Write(encode(&ev, t.json))
}

func (t *StreamTracer) Level() Level { return t.level }

func (t *StreamTracer) Flush() error {
	if f, ok := t.w.(interface{ Sync() error }); ok && t.w != os.Stderr {
		return f.Sync()
	}
	return nil
}

func (t *StreamTracer) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	if c, ok := t.w.(io.Closer); ok && t.w != os.Stderr {
		return c.Close()
	}
	return nil
}

// RingTracer keeps the most recent events in memory.
type RingTracer struct {
	mu    sync.Mutex
	buf   []Event
	next  uint64
	level Level
}

func NewRingTracer(size int, level Level) *RingTracer {
	if size <= 0 {
		size = 4096
	}
	return &RingTracer{buf: make([]Event, size), level: level}
}

func (t *RingTracer) Emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	ev.Seq = t.next
	t.buf[(t.next-1)%uint64(len(t.buf))] = ev
}

// Snapshot returns the retained events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := uint64(len(t.buf))
	first := uint64(0)
	if t.next > n {
		first = t.next - n
	}
	out := make([]Event, 0, t.next-first)
	for s := first; s < t.next; s++ {
		out = append(out, t.buf[s%n])
	}
	return out
}

// Dump writes the retained events as text.
func (t *RingTracer) Dump(w io.Writer) error {
	for _, ev := range t.Snapshot() {
		if _, err := w.Write(encode(&ev, false)); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Level() Level { return t.level }
func (t *RingTracer) Flush() error { return nil }
func (t *RingTracer) Close() error { return nil }

type fanout struct {
	level Level
	to    []Tracer
}

func (f *fanout) Emit(ev Event) {
	for _, t := range f.to {
		t.Emit(ev)
	}
}

func (f *fanout) Level() Level { return f.level }

func (f *fanout) Flush() error {
	var first error
	for _, t := range f.to {
		if err := t.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *fanout) Close() error {
	var first error
	for _, t := range f.to {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type jsonEvent struct {
	Time   string            `json:"time"`
	Seq    uint64            `json:"seq"`
	Kind   string            `json:"kind"`
	Scope  string            `json:"scope"`
	Span   uint64            `json:"span"`
	Parent uint64            `json:"parent,omitempty"`
	Name   string            `json:"name"`
	Detail string            `json:"detail,omitempty"`
	Micros int64             `json:"us,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

var marks = [...]string{KindBegin: "> ", KindEnd: "< ", KindPoint: "* ", KindFail: "! "}

// encode renders one event line. Text lines look like
//
//	[    12]     < narrow 41us {values=9}
func encode(ev *Event, jsonLines bool) []byte {
	if jsonLines {
		data, _ := json.Marshal(jsonEvent{
			Time:   ev.Time.Format("2006-01-02T15:04:05.000000Z07:00"),
			Seq:    ev.Seq,
			Kind:   ev.Kind.String(),
			Scope:  ev.Scope.String(),
			Span:   ev.Span,
			Parent: ev.Parent,
			Name:   ev.Name,
			Detail: ev.Detail,
			Micros: ev.Elapsed.Microseconds(),
			Fields: ev.Fields,
		})
		return append(data, '\n')
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%6d] %s", ev.Seq, strings.Repeat("  ", max(int(ev.Scope)-1, 0)))
	if int(ev.Kind) < len(marks) {
		sb.WriteString(marks[ev.Kind])
	}
	sb.WriteString(ev.Name)
	if ev.Kind == KindEnd || ev.Kind == KindFail {
		fmt.Fprintf(&sb, " %dus", ev.Elapsed.Microseconds())
	}
	if ev.Detail != "" {
		fmt.Fprintf(&sb, " (%s)", ev.Detail)
	}
	if len(ev.Fields) > 0 {
		sb.WriteString(" {")
		for i, k := range slices.Sorted(maps.Keys(ev.Fields)) {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k + "=" + ev.Fields[k])
		}
		sb.WriteString("}")
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}
