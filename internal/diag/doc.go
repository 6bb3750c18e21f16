// Package diag defines the diagnostic model shared by the allocation passes.
//
// Hard failures (hard locals ceiling, recursion, stack depth) are returned as
// typed errors by the pass that detects them. Everything advisory, such as a
// function crossing the soft locals ceiling, is reported through a Reporter
// and usually collected in a Bag owned by the driver.
//
// Diagnostic is the central record: Severity, Code, a short Message, the
// function it concerns and optional Notes (call-chain steps, values).
// Keep messages short and actionable; notes must add context rather than
// repeat the message.
package diag
