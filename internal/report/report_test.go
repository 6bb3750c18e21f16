package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"cardc/internal/ir"
	"cardc/internal/pipeline"
)

func TestTableAlignsWideRunes(t *testing.T) {
	tb := &table{header: []string{"name", "slot"}}
	tb.add("ключ", "0")
	tb.add("値値", "1")
	var buf bytes.Buffer
	if err := tb.write(&buf, ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"name  slot",
		"ключ  0",
		"値値  1",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"counter", 0, "counter"},
		{"counter", 10, "counter"},
		{"counter", 6, "cou..."},
		{"counter", 3, "cou"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestWriteModule(t *testing.T) {
	b := ir.NewBuilder("main", ir.TypeI32)
	p := b.Param("acc", ir.TypeI32)
	b.Block("entry")
	b.Ret(b.Binary(ir.BinAdd, ir.TypeI32, p, ir.Const(ir.TypeI32, 1)))
	m := &ir.Module{Funcs: []*ir.Func{b.Func()}}

	res, err := pipeline.RunModule(context.Background(), m, pipeline.Options{})
	if err != nil {
		t.Fatalf("RunModule: %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, res, Options{Timings: true, Moves: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"func main: 2 slots, 2 params",
		"slot  value",
		"%acc",
		"pre-codegen stack: depth",
		"STK2003",
		"timings:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("colour escapes with colour disabled:\n%s", out)
	}
}
