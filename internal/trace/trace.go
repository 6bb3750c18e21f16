// Package trace records the structure of an allocation run as nested spans:
// one driver span per module, one pass span per module-wide phase and one
// func span per function and per function phase.
package trace

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Level controls which scopes are recorded.
type Level uint8

const (
	LevelOff    Level = iota
	LevelError        // failed spans only
	LevelPhase        // driver and passes
	LevelDetail       // plus per-function phases
	LevelDebug        // everything
)

var levelNames = []string{"off", "error", "phase", "detail", "debug"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

func ParseLevel(s string) (Level, error) {
	i := slices.Index(levelNames, strings.ToLower(s))
	if i < 0 {
		return LevelOff, fmt.Errorf("invalid trace level %q (expected %s)", s, strings.Join(levelNames, "|"))
	}
	return Level(i), nil
}

// Records reports whether spans of scope are kept at this level.
func (l Level) Records(scope Scope) bool {
	switch l {
	case LevelPhase:
		return scope <= ScopePass
	case LevelDetail:
		return scope <= ScopeFunc
	case LevelDebug:
		return true
	}
	return false
}

// Scope is the granularity of a span. Coarser scopes have lower values.
type Scope uint8

const (
	ScopeDriver Scope = iota + 1
	ScopePass
	ScopeFunc
	ScopeValue
)

var scopeNames = []string{"", "driver", "pass", "func", "value"}

func (s Scope) String() string {
	if s > 0 && int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return "unknown"
}

type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindEnd
	KindPoint
	KindFail
)

var kindNames = []string{"", "begin", "end", "point", "fail"}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is one record. Seq is assigned by the tracer that stores it.
type Event struct {
	Time   time.Time
	Seq    uint64
	Kind   Kind
	Scope  Scope
	Span   uint64
	Parent uint64
	Name   string
	Detail string
	// Elapsed is set on end and fail events.
	Elapsed time.Duration
	Fields  map[string]string
}

// Tracer receives events. Implementations must be safe for concurrent use.
type Tracer interface {
	Emit(ev Event)
	Level() Level
	Flush() error
	Close() error
}

type nop struct{}

func (nop) Emit(Event)   {}
func (nop) Level() Level { return LevelOff }
func (nop) Flush() error { return nil }
func (nop) Close() error { return nil }

// Nop discards everything.
var Nop Tracer = nop{}
