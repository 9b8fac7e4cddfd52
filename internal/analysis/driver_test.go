package analysis

import (
	"reflect"
	"testing"

	"ocstack/internal/jvm"
	"ocstack/internal/oracle"
)

// countLoop builds: int i = 0; while (i < 10) i++; return i;
func countLoop() *jvm.Method {
	a := asm()
	a.Op(jvm.ICONST_0).
		Reg(jvm.ISTORE, 1).
		Label("head").
		Reg(jvm.ILOAD, 1).
		Bipush(10).
		Branch(jvm.IF_ICMPGE, "done").
		Iinc(1, 1).
		Branch(jvm.GOTO, "head").
		Label("done").
		Reg(jvm.ILOAD, 1).
		Op(jvm.IRETURN)
	return a.MustMethod("demo/T", "count", "()I", true)
}

func TestLoopReachesFixedPoint(t *testing.T) {
	m := countLoop()
	tops, a := analyzeTops(t, m)

	// at the loop-head reload the counter has merged with the back edge:
	// it cannot still look like the constant 0
	head := m.Code[2].PC // iload 1 at the head
	it, ok := tops[head]
	if !ok {
		t.Fatal("loop head never visited")
	}
	if it.Constant() != nil {
		t.Errorf("loop counter still constant %v after merging the back edge", it.Constant())
	}
	if !a.IsJumpTarget(head) {
		t.Error("the loop head is a jump target")
	}
}

func TestStraightLineIsSinglePass(t *testing.T) {
	a := asm()
	a.Op(jvm.ICONST_1).Op(jvm.ICONST_2).Op(jvm.IADD).Op(jvm.IRETURN)
	m := a.MustMethod("demo/T", "f", "()I", true)

	visits := make(map[int]int)
	an := NewAnalyzer(quietContext(), m)
	err := an.Run(func(ins *jvm.Instruction, _ *Analyzer) {
		visits[ins.PC]++
	})
	if err != nil {
		t.Fatal(err)
	}
	for pc, n := range visits {
		if n != 1 {
			t.Errorf("pc %d visited %d times; a method without back edges needs one pass", pc, n)
		}
	}
}

func TestNullCheckBooleanIdiom(t *testing.T) {
	// x != null materialised as ifnull/iconst_1/goto/iconst_0
	a := asm()
	a.Reg(jvm.ALOAD, 0).
		Branch(jvm.IFNULL, "isnull").
		Op(jvm.ICONST_1).
		Branch(jvm.GOTO, "join").
		Label("isnull").
		Op(jvm.ICONST_0).
		Label("join").
		Op(jvm.NOP).
		Op(jvm.IRETURN)
	m := a.MustMethod("demo/T", "f", "(Ljava/lang/Object;)I", true)

	tops, _ := analyzeTops(t, m)
	join := m.Code[5].PC // the nop at the join, before ireturn consumes the value
	it, ok := tops[join]
	if !ok {
		t.Fatal("join never visited with a value on the stack")
	}
	if it.SpecialKind() != NonzeroMeansNull {
		t.Errorf("kind = %v, want NONZERO_MEANS_NULL", it.SpecialKind())
	}
	if !it.CouldBeZero() {
		t.Error("the collapsed boolean may be zero")
	}
	if it.PC() != m.Code[1].PC {
		t.Errorf("idiom pc = %d, want pc of the ifnull (%d)", it.PC(), m.Code[1].PC)
	}
}

func TestZeroOneMaterialisationCollapses(t *testing.T) {
	// a comparison materialised to 0/1 the javac way
	a := asm()
	a.Reg(jvm.ILOAD, 0).
		Branch(jvm.IFNE, "one").
		Op(jvm.ICONST_0).
		Branch(jvm.GOTO, "join").
		Label("one").
		Op(jvm.ICONST_1).
		Label("join").
		Op(jvm.NOP).
		Op(jvm.IRETURN)
	m := a.MustMethod("demo/T", "f", "(I)I", true)
	tops, _ := analyzeTops(t, m)
	it, ok := tops[m.Code[5].PC]
	if !ok {
		t.Fatal("join never visited")
	}
	if it.Constant() != nil {
		t.Errorf("collapsed boolean still constant %v", it.Constant())
	}
	if !it.CouldBeZero() {
		t.Error("collapsed boolean may be zero")
	}
}

func TestExceptionHandlerEntry(t *testing.T) {
	a := asm()
	a.Label("start").
		Reg(jvm.ALOAD, 0).
		Invoke(jvm.INVOKEVIRTUAL, "demo/T", "work", "()V").
		Label("end").
		Branch(jvm.GOTO, "out").
		Label("handler").
		Reg(jvm.ASTORE, 1).
		Label("out").
		Op(jvm.RETURN).
		Handler("start", "end", "handler", "java/io/IOException")
	m := a.MustMethod("demo/T", "f", "()V", false)

	var caught Item
	seen := false
	an := NewAnalyzer(quietContext(), m)
	err := an.Run(func(ins *jvm.Instruction, az *Analyzer) {
		if ins.Opcode == jvm.ASTORE && !az.State().IsTop() {
			caught = az.State().Local(1)
			seen = true
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("handler body never reached")
	}
	if caught.Signature() != "Ljava/io/IOException;" {
		t.Errorf("caught type = %q, want Ljava/io/IOException;", caught.Signature())
	}
}

func TestCatchAllHandlerIsThrowable(t *testing.T) {
	a := asm()
	a.Label("start").
		Reg(jvm.ALOAD, 0).
		Invoke(jvm.INVOKEVIRTUAL, "demo/T", "work", "()V").
		Label("end").
		Branch(jvm.GOTO, "out").
		Label("handler").
		Reg(jvm.ASTORE, 1).
		Label("out").
		Op(jvm.RETURN).
		Handler("start", "end", "handler", "")
	m := a.MustMethod("demo/T", "f", "()V", false)

	var caught Item
	an := NewAnalyzer(quietContext(), m)
	if err := an.Run(func(ins *jvm.Instruction, az *Analyzer) {
		if ins.Opcode == jvm.ASTORE && !az.State().IsTop() {
			caught = az.State().Local(1)
		}
	}); err != nil {
		t.Fatal(err)
	}
	if caught.Signature() != "Ljava/lang/Throwable;" {
		t.Errorf("caught type = %q, want Ljava/lang/Throwable;", caught.Signature())
	}
}

func TestTableSwitchRecordsAllTargets(t *testing.T) {
	a := asm()
	a.Reg(jvm.ILOAD, 0).
		TableSwitch("dflt", "case0", "case1").
		Label("case0").
		Op(jvm.ICONST_0).
		Op(jvm.IRETURN).
		Label("case1").
		Op(jvm.ICONST_1).
		Op(jvm.IRETURN).
		Label("dflt").
		Op(jvm.ICONST_M1).
		Op(jvm.IRETURN)
	m := a.MustMethod("demo/T", "f", "(I)I", true)

	visited := make(map[int]bool)
	an := NewAnalyzer(quietContext(), m)
	if err := an.Run(func(ins *jvm.Instruction, az *Analyzer) {
		if !az.State().IsTop() {
			visited[ins.PC] = true
		}
	}); err != nil {
		t.Fatal(err)
	}
	for _, idx := range []int{2, 4, 6} { // the three iconst entries
		if !visited[m.Code[idx].PC] {
			t.Errorf("switch arm at pc %d unreachable", m.Code[idx].PC)
		}
	}
	sw := m.Code[1]
	for _, target := range append([]int{sw.DefaultTarget}, sw.Switches...) {
		if !an.IsJumpTarget(target) {
			t.Errorf("pc %d not recorded as a jump target", target)
		}
	}
}

func TestInitialParameters(t *testing.T) {
	a := asm()
	a.Reg(jvm.ALOAD, 0).Op(jvm.RETURN)
	m := a.MustMethod("demo/T", "f", "(J)V", false)
	an := analyze(t, m)
	st := an.State()

	this := st.Local(0)
	if !this.IsInitialParameter() || this.Signature() != "Ldemo/T;" {
		t.Errorf("this = %v", this)
	}
	// the wide parameter lands in register 1 and occupies 1..2
	arg := st.Local(1)
	if !arg.IsInitialParameter() || arg.Signature() != "J" {
		t.Errorf("long parameter = %v", arg)
	}
}

func TestRecoveryFromUnknownOpcode(t *testing.T) {
	m := &jvm.Method{
		ClassName: "demo/T",
		Name:      "f",
		Signature: "()I",
		Static:    true,
		Code: []jvm.Instruction{
			{PC: 0, Opcode: jvm.ICONST_1, Register: -1},
			{PC: 1, Opcode: jvm.Opcode(0xcb), Register: -1}, // not a JVM opcode
			{PC: 2, Opcode: jvm.ICONST_2, Register: -1},
		},
		MaxPC: 3,
	}
	an := NewAnalyzer(quietContext(), m)
	if err := an.Run(nil); err != nil {
		t.Fatalf("unknown opcodes must not fail the analysis: %v", err)
	}
	if !an.State().IsTop() {
		t.Error("state after an unmodelled opcode stays unreachable until a merge point")
	}
}

func TestJumpInfoRoundTrip(t *testing.T) {
	m := countLoop()
	an := analyze(t, m)
	info := an.JumpInfo()
	if len(info.Entries) == 0 || len(info.Locations) == 0 {
		t.Fatal("loop analysis must produce jump entries")
	}

	blob, err := EncodeJumpInfo(info)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeJumpInfo(blob)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(info.Locations, back.Locations) {
		t.Error("locations did not survive the round trip")
	}
	for pc, items := range info.Entries {
		got := back.Entries[pc]
		if len(got) != len(items) {
			t.Fatalf("entry at pc %d: %d items, want %d", pc, len(got), len(items))
		}
		for i := range items {
			if !SameValue(items[i], got[i]) {
				t.Errorf("entry %d/%d changed: %v -> %v", pc, i, items[i], got[i])
			}
		}
	}
}

func TestCacheSeedsSinglePass(t *testing.T) {
	m := countLoop()
	cache := oracle.NewMemoryCache()

	// first run, iterative, populates the cache
	ctx := quietContext()
	ctx.Cache = cache
	an := NewAnalyzer(ctx, m)
	if err := an.Run(nil); err != nil {
		t.Fatal(err)
	}

	// second run, non-iterative, must still see the merged loop state
	ctx2 := quietContext()
	ctx2.Iterative = false
	ctx2.Cache = cache
	tops := make(map[int]Item)
	an2 := NewAnalyzer(ctx2, m)
	if err := an2.Run(func(ins *jvm.Instruction, az *Analyzer) {
		if !az.State().IsTop() && az.State().Depth() > 0 {
			tops[ins.PC] = az.State().Top()
		}
	}); err != nil {
		t.Fatal(err)
	}
	head := m.Code[2].PC
	it, ok := tops[head]
	if !ok {
		t.Fatal("loop head not visited in seeded single pass")
	}
	if it.Constant() != nil {
		t.Errorf("seeded single pass still sees constant %v at the loop head", it.Constant())
	}
}

func TestMinValueGuardClearsRareNegative(t *testing.T) {
	// if (x == Integer.MIN_VALUE) ... else use abs(x)
	a := asm()
	a.Reg(jvm.ALOAD, 0).
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/Object", "hashCode", "()I").
		Invoke(jvm.INVOKESTATIC, "java/lang/Math", "abs", "(I)I").
		Reg(jvm.ISTORE, 1).
		Reg(jvm.ILOAD, 1).
		Ldc(int32(-2147483648)).
		Branch(jvm.IF_ICMPEQ, "rare").
		Reg(jvm.ILOAD, 1).
		Op(jvm.IRETURN).
		Label("rare").
		Op(jvm.ICONST_0).
		Op(jvm.IRETURN)
	m := a.MustMethod("demo/T", "f", "(Ljava/lang/Object;)I", true)
	tops, _ := analyzeTops(t, m)
	it, ok := tops[m.Code[7].PC] // the reload after the guard
	if !ok {
		t.Fatal("post-guard reload not visited")
	}
	if it.SpecialKind() == MathAbsOfHashcode {
		t.Error("the MIN_VALUE guard must clear MATH_ABS_OF_HASHCODE")
	}
}
