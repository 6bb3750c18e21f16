// Package pipeline runs the local-storage allocation passes over a module:
// per function in a worker pool, then the call-graph barrier.
package pipeline

import (
	"runtime"

	"cardc/internal/cache"
	"cardc/internal/layout"
	"cardc/internal/limits"
)

// Options configures a pipeline run. The zero value is usable: it means the
// reference runtime limits and target, one worker per CPU and no cache.
type Options struct {
	Limits limits.Limits
	Target layout.Target
	// Jobs bounds the worker pool; 0 means GOMAXPROCS.
	Jobs int
	// MaxDiagnostics bounds the diagnostics kept per function.
	MaxDiagnostics int
	Cache          cache.Store
	NoCoalesce     bool
}

func (o Options) normalized() Options {
	if o.Limits.MaxLocalsHard == 0 {
		entries := o.Limits.EntryPoints
		o.Limits = limits.Default()
		o.Limits.EntryPoints = entries
	}
	if o.Target == (layout.Target{}) {
		o.Target = layout.SmartCard16()
	}
	if o.Jobs <= 0 {
		o.Jobs = runtime.GOMAXPROCS(0)
	}
	if o.MaxDiagnostics <= 0 {
		o.MaxDiagnostics = 256
	}
	return o
}
