package trace

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

var spanIDs atomic.Uint64

type tracerKey struct{}
type spanKey struct{}

// WithTracer returns ctx carrying t. A nil t stores Nop.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, tracerKey{}, t)
}

// FromContext returns the tracer in ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx != nil {
		if t, ok := ctx.Value(tracerKey{}).(Tracer); ok {
			return t
		}
	}
	return Nop
}

func parentOf(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(spanKey{}).(uint64)
	return id
}

// Span is an open interval of work. A nil *Span is valid and records nothing.
type Span struct {
	t       Tracer
	id      uint64
	parent  uint64
	scope   Scope
	name    string
	started time.Time
	fields  map[string]string
}

// Start opens a span under the one carried by ctx and returns a context
// carrying the new span, so nested calls attach to it.
func Start(ctx context.Context, scope Scope, name string) (context.Context, *Span) {
	t := FromContext(ctx)
	if t.Level() == LevelOff {
		return ctx, nil
	}
	s := &Span{
		t:       t,
		id:      spanIDs.Add(1),
		parent:  parentOf(ctx),
		scope:   scope,
		name:    name,
		started: time.Now(),
	}
	if t.Level().Records(scope) {
		t.Emit(Event{Time: s.started, Kind: KindBegin, Scope: scope, Span: s.id, Parent: s.parent, Name: name})
	}
	return context.WithValue(ctx, spanKey{}, s.id), s
}

// Set attaches a field reported when the span ends.
func (s *Span) Set(key string, value any) *Span {
	if s == nil {
		return nil
	}
	if s.fields == nil {
		s.fields = make(map[string]string)
	}
	s.fields[key] = fmt.Sprint(value)
	return s
}

// End closes the span.
func (s *Span) End() time.Duration {
	return s.finish(KindEnd, "")
}

// Fail closes the span with err. Failures are recorded from LevelError up,
// whatever the scope.
func (s *Span) Fail(err error) time.Duration {
	if err == nil {
		return s.End()
	}
	return s.finish(KindFail, err.Error())
}

func (s *Span) finish(kind Kind, detail string) time.Duration {
	if s == nil {
		return 0
	}
	d := time.Since(s.started)
	if s.t.Level().Records(s.scope) || kind == KindFail {
		s.t.Emit(Event{
			Time:    time.Now(),
			Kind:    kind,
			Scope:   s.scope,
			Span:    s.id,
			Parent:  s.parent,
			Name:    s.name,
			Detail:  detail,
			Elapsed: d,
			Fields:  s.fields,
		})
	}
	return d
}

// Point records an instant event under the span carried by ctx.
func Point(ctx context.Context, scope Scope, name, detail string) {
	t := FromContext(ctx)
	if !t.Level().Records(scope) {
		return
	}
	t.Emit(Event{Time: time.Now(), Kind: KindPoint, Scope: scope, Span: spanIDs.Add(1), Parent: parentOf(ctx), Name: name, Detail: detail})
}
