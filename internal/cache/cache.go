// Package cache keeps per-function allocation results between runs, keyed by
// a digest of everything the allocation depends on.
package cache

import (
	"cardc/internal/callgraph"
	"cardc/internal/diag"
	"cardc/internal/locals"
)

// Current schema version - increment when Entry changes shape.
const schemaVersion uint16 = 1

// Entry is the cached outcome of one function's pipeline run.
type Entry struct {
	Schema uint16
	Func   string
	Locals *locals.FunctionLocals
	Frame  callgraph.Frame
	// ParamNarrowable feeds the inter-procedural parameter table.
	ParamNarrowable []bool
	// Diags are replayed on a hit so warnings do not disappear.
	Diags []diag.Diagnostic
}

// NewEntry stamps e with the current schema.
func NewEntry(fn string, fl *locals.FunctionLocals, fr callgraph.Frame) *Entry {
	return &Entry{Schema: schemaVersion, Func: fn, Locals: fl, Frame: fr}
}

// Store is a lookup table of entries. A nil Store never hits.
type Store interface {
	Get(fn string, key Digest) (*Entry, bool, error)
	Put(key Digest, e *Entry) error
}

// Tiered consults the in-memory cache before the disk and fills memory on
// disk hits.
type Tiered struct {
	Mem  *MemCache
	Disk *DiskCache
}

func (t Tiered) Get(fn string, key Digest) (*Entry, bool, error) {
	if e, ok, _ := t.Mem.Get(fn, key); ok {
		return e, true, nil
	}
	e, ok, err := t.Disk.Get(fn, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.Mem.Put(key, e)
	return e, true, nil
}

func (t Tiered) Put(key Digest, e *Entry) error {
	_ = t.Mem.Put(key, e)
	return t.Disk.Put(key, e)
}
