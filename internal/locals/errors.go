package locals

import "fmt"

// LimitError reports a function whose permanent slots exceed the hard
// ceiling. Compilation of that function stops.
type LimitError struct {
	Func  string
	Slots int
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %d permanent local slots exceed the hard limit of %d", e.Func, e.Slots, e.Limit)
}

// ConsistencyError reports a broken invariant in an earlier stage's
// output. It always indicates a compiler bug.
type ConsistencyError struct {
	Func  string
	Stage string
	Err   error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: internal consistency error after %s: %v", e.Func, e.Stage, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}
