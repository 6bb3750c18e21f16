package ir

import "strconv"

type Block struct {
	ID     BlockID
	Name   string
	Instrs []Instr
	Term   Terminator
}

func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}

// Func is a function in SSA form. Block 0 is the entry block. A Func is
// never mutated once built; analyses only read it.
type Func struct {
	Name   string
	Params []ValueID
	Values []Value
	Blocks []Block
	Result Type
}

// ValueType returns the declared type of v, TypeVoid for unknown ids.
func (f *Func) ValueType(v ValueID) Type {
	if f == nil || v < 0 || int(v) >= len(f.Values) {
		return TypeVoid
	}
	return f.Values[v].Type
}

// ValueName returns a printable name for v.
func (f *Func) ValueName(v ValueID) string {
	if f != nil && v >= 0 && int(v) < len(f.Values) && f.Values[v].Name != "" {
		return "%" + f.Values[v].Name
	}
	return "%" + strconv.Itoa(int(v))
}

// ParamIndex returns the declaration position of v among the parameters.
func (f *Func) ParamIndex(v ValueID) (int, bool) {
	if f == nil {
		return 0, false
	}
	for i, p := range f.Params {
		if p == v {
			return i, true
		}
	}
	return 0, false
}

// ParamSlots returns the number of slots occupied by the declared
// parameters.
func (f *Func) ParamSlots() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, p := range f.Params {
		n += f.ValueType(p).Width()
	}
	return n
}

type Module struct {
	Globals []Global
	Funcs   []*Func
}

// Func returns the function with the given name or nil.
func (m *Module) Func(name string) *Func {
	if m == nil {
		return nil
	}
	for _, f := range m.Funcs {
		if f != nil && f.Name == name {
			return f
		}
	}
	return nil
}

// Global returns the global with id g or nil.
func (m *Module) Global(g GlobalID) *Global {
	if m == nil || g < 0 || int(g) >= len(m.Globals) {
		return nil
	}
	return &m.Globals[g]
}
