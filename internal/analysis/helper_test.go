package analysis

import (
	"io"
	"log"
	"testing"

	"ocstack/internal/jvm"
)

// quietContext returns an iterative context with logging discarded.
func quietContext() *Context {
	ctx := NewContext()
	ctx.Debug = false
	ctx.Logger = log.New(io.Discard, "", 0)
	return ctx
}

// analyze runs a method to its fixed point and returns the analyzer.
func analyze(t *testing.T, m *jvm.Method) *Analyzer {
	t.Helper()
	a := NewAnalyzer(quietContext(), m)
	if err := a.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return a
}

// analyzeTops runs a method and captures the top-of-stack item observed
// after each pc (last iteration wins), plus the analyzer.
func analyzeTops(t *testing.T, m *jvm.Method) (map[int]Item, *Analyzer) {
	t.Helper()
	tops := make(map[int]Item)
	a := NewAnalyzer(quietContext(), m)
	err := a.Run(func(ins *jvm.Instruction, az *Analyzer) {
		st := az.State()
		if !st.IsTop() && st.Depth() > 0 {
			tops[ins.PC] = st.Top()
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return tops, a
}

// finalTop analyses a method that leaves its result on the stack and
// returns that item.
func finalTop(t *testing.T, m *jvm.Method) Item {
	t.Helper()
	a := analyze(t, m)
	st := a.State()
	if st.IsTop() {
		t.Fatalf("state unexpectedly unreachable at method end")
	}
	if st.Depth() == 0 {
		t.Fatalf("empty stack at method end")
	}
	return st.Top()
}

// asm is shorthand for a fresh assembler.
func asm() *jvm.Assembler {
	return jvm.NewAssembler()
}
