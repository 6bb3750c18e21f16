package diag

// Note carries secondary context, usually a value or a call-chain step.
type Note struct {
	Func string
	Msg  string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Func     string
	Notes    []Note
}
