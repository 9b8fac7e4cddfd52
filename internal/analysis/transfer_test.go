package analysis

import (
	"testing"

	"ocstack/internal/jvm"
)

func TestIntegerConstantFolding(t *testing.T) {
	tests := []struct {
		name string
		op   jvm.Opcode
		a, b int32
		want int32
	}{
		{"iadd", jvm.IADD, 10, 20, 30},
		{"isub", jvm.ISUB, 50, 20, 30},
		{"imul", jvm.IMUL, 5, 6, 30},
		{"idiv", jvm.IDIV, 60, 2, 30},
		{"idiv truncates", jvm.IDIV, -7, 2, -3},
		{"idiv min by -1", jvm.IDIV, -1 << 31, -1, -1 << 31},
		{"irem", jvm.IREM, 17, 5, 2},
		{"iand", jvm.IAND, 0xff, 0x0f, 0x0f},
		{"ior", jvm.IOR, 0xf0, 0x0f, 0xff},
		{"ixor", jvm.IXOR, 0xff, 0x0f, 0xf0},
		{"ishl", jvm.ISHL, 1, 4, 16},
		{"ishr", jvm.ISHR, -16, 2, -4},
		{"iushr", jvm.IUSHR, -1, 28, 15},
		{"ishl masks count", jvm.ISHL, 1, 33, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := asm()
			a.Ldc(tt.a).Ldc(tt.b).Op(tt.op)
			top := finalTop(t, a.MustMethod("demo/T", "f", "()V", true))
			if got, ok := top.Constant().(int32); !ok || got != tt.want {
				t.Errorf("got %v, want %d", top.Constant(), tt.want)
			}
		})
	}
}

func TestDivisionByZeroIsNotConstant(t *testing.T) {
	for _, op := range []jvm.Opcode{jvm.IDIV, jvm.IREM} {
		a := asm()
		a.Ldc(int32(5)).Op(jvm.ICONST_0).Op(op)
		top := finalTop(t, a.MustMethod("demo/T", "f", "()V", true))
		if top.Constant() != nil {
			t.Errorf("%s by zero must not fold, got %v", op, top.Constant())
		}
		if top.Signature() != "I" {
			t.Errorf("%s result must still be an int", op)
		}
	}
}

func TestLongFolding(t *testing.T) {
	a := asm()
	a.Ldc(int64(1 << 40)).Ldc(int64(3)).Op(jvm.LMUL)
	top := finalTop(t, a.MustMethod("demo/T", "f", "()V", true))
	if got, ok := top.Constant().(int64); !ok || got != 3<<40 {
		t.Errorf("lmul fold = %v", top.Constant())
	}

	// -1 >>> (65 & 63) = -1 >>> 1
	a = asm()
	a.Ldc(int64(-1)).Bipush(65).Op(jvm.LUSHR)
	top = finalTop(t, a.MustMethod("demo/T", "g", "()V", true))
	if got, ok := top.Constant().(int64); !ok || got != 0x7fffffffffffffff {
		t.Errorf("lushr fold = %v", top.Constant())
	}
}

func TestIntegerSumAndAverage(t *testing.T) {
	// two unknowns added: INTEGER_SUM; then /2: the average idiom
	a := asm()
	a.Reg(jvm.ILOAD, 0).
		Reg(jvm.ILOAD, 1).
		Op(jvm.IADD)
	top := finalTop(t, a.MustMethod("demo/T", "f", "(II)V", true))
	if top.SpecialKind() != IntegerSum {
		t.Fatalf("sum of unknowns = %v, want INTEGER_SUM", top.SpecialKind())
	}

	a = asm()
	a.Reg(jvm.ILOAD, 0).
		Reg(jvm.ILOAD, 1).
		Op(jvm.IADD).
		Op(jvm.ICONST_2).
		Op(jvm.IDIV)
	top = finalTop(t, a.MustMethod("demo/T", "g", "(II)V", true))
	if top.SpecialKind() != AverageComputedUsingDivision {
		t.Errorf("(a+b)/2 = %v, want AVERAGE_COMPUTED_USING_DIVISION", top.SpecialKind())
	}

	a = asm()
	a.Reg(jvm.ILOAD, 0).
		Reg(jvm.ILOAD, 1).
		Op(jvm.IADD).
		Op(jvm.ICONST_1).
		Op(jvm.ISHR)
	top = finalTop(t, a.MustMethod("demo/T", "h", "(II)V", true))
	if top.SpecialKind() != AverageComputedUsingDivision {
		t.Errorf("(a+b)>>1 = %v, want AVERAGE_COMPUTED_USING_DIVISION", top.SpecialKind())
	}
}

func TestMaskAndShiftKinds(t *testing.T) {
	// unknown & 0x7f00 clears the low byte
	a := asm()
	a.Reg(jvm.ILOAD, 0).Sipush(0x7f00).Op(jvm.IAND)
	top := finalTop(t, a.MustMethod("demo/T", "f", "(I)V", true))
	if top.SpecialKind() != NonNegative && top.SpecialKind() != Low8BitsClear {
		t.Fatalf("mask kind = %v", top.SpecialKind())
	}
	if top.SpecialKind() != Low8BitsClear {
		t.Errorf("0x7f00 mask should report LOW_8_BITS_CLEAR, got %v", top.SpecialKind())
	}

	// unknown << 8 clears the low byte
	a = asm()
	a.Reg(jvm.ILOAD, 0).Bipush(8).Op(jvm.ISHL)
	top = finalTop(t, a.MustMethod("demo/T", "g", "(I)V", true))
	if top.SpecialKind() != Low8BitsClear {
		t.Errorf("<<8 kind = %v, want LOW_8_BITS_CLEAR", top.SpecialKind())
	}

	// unknown & positive constant is non-negative
	a = asm()
	a.Reg(jvm.ILOAD, 0).Bipush(0x7f).Op(jvm.IAND)
	top = finalTop(t, a.MustMethod("demo/T", "h", "(I)V", true))
	if top.SpecialKind() != NonNegative {
		t.Errorf("&0x7f kind = %v, want NON_NEGATIVE", top.SpecialKind())
	}
}

func TestHashcodeRemainder(t *testing.T) {
	// h.hashCode() % 17 keeps the dangerous sign
	a := asm()
	a.Reg(jvm.ALOAD, 0).
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/Object", "hashCode", "()I").
		Bipush(17).
		Op(jvm.IREM)
	top := finalTop(t, a.MustMethod("demo/T", "f", "(Ljava/lang/Object;)V", true))
	if top.SpecialKind() != HashcodeIntRemainder {
		t.Errorf("hashCode %% 17 = %v, want HASHCODE_INT_REMAINDER", top.SpecialKind())
	}

	// ... but % 16 compiles to a power-of-two remainder, which javac
	// rewrites safely, so the kind is dropped
	a = asm()
	a.Reg(jvm.ALOAD, 0).
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/Object", "hashCode", "()I").
		Bipush(16).
		Op(jvm.IREM)
	top = finalTop(t, a.MustMethod("demo/T", "g", "(Ljava/lang/Object;)V", true))
	if top.SpecialKind() != NotSpecial {
		t.Errorf("hashCode %% 16 = %v, want NOT_SPECIAL", top.SpecialKind())
	}
}

func TestFloatingArithmetic(t *testing.T) {
	a := asm()
	a.Ldc(2.5).Ldc(4.0).Op(jvm.DMUL)
	top := finalTop(t, a.MustMethod("demo/T", "f", "()V", true))
	if got, ok := top.Constant().(float64); !ok || got != 10.0 {
		t.Errorf("dmul fold = %v", top.Constant())
	}

	// unknown operands carry FLOAT_MATH
	a = asm()
	a.Reg(jvm.DLOAD, 0).Ldc(2.0).Op(jvm.DMUL)
	top = finalTop(t, a.MustMethod("demo/T", "g", "(D)V", true))
	if top.SpecialKind() != FloatMath {
		t.Errorf("unknown dmul = %v, want FLOAT_MATH", top.SpecialKind())
	}

	// division by an unknown divisor is the nasty case
	a = asm()
	a.Ldc(1.0).Reg(jvm.DLOAD, 0).Op(jvm.DDIV)
	top = finalTop(t, a.MustMethod("demo/T", "h", "(D)V", true))
	if top.SpecialKind() != NastyFloatMath {
		t.Errorf("ddiv by unknown = %v, want NASTY_FLOAT_MATH", top.SpecialKind())
	}
}

func TestComparisons(t *testing.T) {
	a := asm()
	a.Ldc(int64(3)).Ldc(int64(9)).Op(jvm.LCMP)
	top := finalTop(t, a.MustMethod("demo/T", "f", "()V", true))
	if got, ok := top.Constant().(int32); !ok || got != -1 {
		t.Errorf("lcmp(3,9) = %v, want -1", top.Constant())
	}

	// NaN goes to +1 under the g form and -1 under the l form
	nan := asm()
	nan.Ldc(float64(0)).Ldc(float64(0)).Op(jvm.DDIV). // 0/0 folds to NaN
								Ldc(1.0).Op(jvm.DCMPG)
	top = finalTop(t, nan.MustMethod("demo/T", "g", "()V", true))
	if got, ok := top.Constant().(int32); !ok || got != 1 {
		t.Errorf("dcmpg(NaN, 1) = %v, want 1", top.Constant())
	}
}

func TestConversions(t *testing.T) {
	a := asm()
	a.Reg(jvm.ILOAD, 0).Op(jvm.I2L)
	top := finalTop(t, a.MustMethod("demo/T", "f", "(I)V", true))
	if top.Signature() != "J" || top.SpecialKind() != ResultOfI2L {
		t.Errorf("i2l = %q %v", top.Signature(), top.SpecialKind())
	}

	// a byte-sourced value keeps its kind through i2l
	a2 := asm()
	a2.Reg(jvm.ALOAD, 0).Op(jvm.ICONST_0).Op(jvm.BALOAD).Op(jvm.I2L)
	top = finalTop(t, a2.MustMethod("demo/T", "g", "([B)V", true))
	if top.SpecialKind() != SignedByte {
		t.Errorf("i2l of byte = %v, want SIGNED_BYTE kept", top.SpecialKind())
	}

	a = asm()
	a.Reg(jvm.LLOAD, 0).Op(jvm.L2I)
	top = finalTop(t, a.MustMethod("demo/T", "h", "(J)V", true))
	if top.Signature() != "I" || top.SpecialKind() != ResultOfL2I {
		t.Errorf("l2i = %q %v", top.Signature(), top.SpecialKind())
	}

	// i2b clears a non-negative proof; i2c cannot go negative
	a = asm()
	a.Reg(jvm.ALOAD, 0).Op(jvm.ARRAYLENGTH).Op(jvm.I2B)
	top = finalTop(t, a.MustMethod("demo/T", "i", "([I)V", true))
	if top.SpecialKind() == NonNegative {
		t.Error("i2b must clear NON_NEGATIVE")
	}

	a = asm()
	a.Ldc(int32(0x12345)).Op(jvm.I2C)
	top = finalTop(t, a.MustMethod("demo/T", "j", "()V", true))
	if got, ok := top.Constant().(int32); !ok || got != 0x2345 {
		t.Errorf("i2c constant = %v, want 0x2345", top.Constant())
	}
}

func TestStackShuffles(t *testing.T) {
	// dup_x1: ..., 1, 2 -> ..., 2, 1, 2
	a := asm()
	a.Op(jvm.ICONST_1).Op(jvm.ICONST_2).Op(jvm.DUP_X1)
	an := analyze(t, a.MustMethod("demo/T", "f", "()V", true))
	st := an.State()
	if st.Depth() != 3 {
		t.Fatalf("dup_x1 depth = %d", st.Depth())
	}
	wantOrder := []int32{2, 1, 2}
	for i, want := range []int32{wantOrder[2], wantOrder[1], wantOrder[0]} {
		if got, _ := st.Peek(i).Constant().(int32); got != want {
			t.Errorf("dup_x1 slot %d = %v, want %d", i, st.Peek(i).Constant(), want)
		}
	}

	// dup2 of a wide value copies the single abstract item
	a = asm()
	a.Ldc(int64(7)).Op(jvm.DUP2)
	an = analyze(t, a.MustMethod("demo/T", "g", "()V", true))
	if an.State().Depth() != 2 {
		t.Errorf("dup2 of long depth = %d, want 2", an.State().Depth())
	}

	// dup2_x2 form 2: wide over two singles
	a = asm()
	a.Op(jvm.ICONST_1).Op(jvm.ICONST_2).Ldc(int64(9)).Op(jvm.DUP2_X2)
	an = analyze(t, a.MustMethod("demo/T", "h", "()V", true))
	st = an.State()
	if st.Depth() != 4 {
		t.Fatalf("dup2_x2 depth = %d, want 4", st.Depth())
	}
	if _, ok := st.Peek(0).Constant().(int64); !ok {
		t.Error("dup2_x2 must leave the long on top")
	}
	if _, ok := st.Peek(3).Constant().(int64); !ok {
		t.Error("dup2_x2 must insert the long copy underneath")
	}

	// pop2 drops one wide value or two singles
	a = asm()
	a.Ldc(int64(1)).Op(jvm.POP2).Op(jvm.ICONST_1).Op(jvm.ICONST_2).Op(jvm.POP2)
	an = analyze(t, a.MustMethod("demo/T", "i", "()V", true))
	if an.State().Depth() != 0 {
		t.Errorf("pop2 sequence depth = %d, want 0", an.State().Depth())
	}

	// swap
	a = asm()
	a.Op(jvm.ICONST_1).Op(jvm.ICONST_2).Op(jvm.SWAP)
	an = analyze(t, a.MustMethod("demo/T", "j", "()V", true))
	if got, _ := an.State().Top().Constant().(int32); got != 1 {
		t.Errorf("swap top = %v, want 1", an.State().Top().Constant())
	}
}

func TestRegisterMirrorCoherence(t *testing.T) {
	// load r1 twice, store into r1: the stale stack mirror must be cleared
	a := asm()
	a.Reg(jvm.ILOAD, 1).
		Reg(jvm.ILOAD, 1).
		Op(jvm.ICONST_5).
		Reg(jvm.ISTORE, 1)
	an := analyze(t, a.MustMethod("demo/T", "f", "(II)V", true))
	st := an.State()
	if st.Depth() != 2 {
		t.Fatalf("depth = %d", st.Depth())
	}
	for i := 0; i < st.Depth(); i++ {
		if st.Peek(i).RegisterNumber() == 1 {
			t.Errorf("stack slot %d still mirrors r1 after the store", i)
		}
	}
	if st.Local(1).RegisterNumber() != 1 {
		t.Error("the stored value itself mirrors r1")
	}
	if c, _ := st.Local(1).Constant().(int32); c != 5 {
		t.Errorf("r1 = %v, want 5", st.Local(1).Constant())
	}
}

func TestAllocationAndArrayLength(t *testing.T) {
	a := asm()
	a.New("java/util/ArrayList")
	top := finalTop(t, a.MustMethod("demo/T", "f", "()V", true))
	if top.SpecialKind() != NewlyAllocated || top.Signature() != "Ljava/util/ArrayList;" {
		t.Errorf("new = %v", top)
	}

	a = asm()
	a.Bipush(12).NewArray("I").Op(jvm.ARRAYLENGTH)
	top = finalTop(t, a.MustMethod("demo/T", "g", "()V", true))
	if c, ok := top.Constant().(int32); !ok || c != 12 {
		t.Errorf("arraylength of new int[12] = %v, want 12", top.Constant())
	}
	if top.SpecialKind() != NonNegative {
		t.Error("array lengths are never negative")
	}

	a = asm()
	a.Bipush(3).Type(jvm.ANEWARRAY, "java/lang/String").Op(jvm.ICONST_0).Op(jvm.AALOAD)
	top = finalTop(t, a.MustMethod("demo/T", "h", "()V", true))
	if top.Signature() != "Ljava/lang/String;" {
		t.Errorf("aaload element = %q", top.Signature())
	}
}

func TestCheckcastRewritesSignature(t *testing.T) {
	a := asm()
	a.Reg(jvm.ALOAD, 0).Type(jvm.CHECKCAST, "java/lang/String")
	top := finalTop(t, a.MustMethod("demo/T", "f", "(Ljava/lang/Object;)V", true))
	if top.Signature() != "Ljava/lang/String;" {
		t.Errorf("checkcast = %q", top.Signature())
	}
	if !top.IsInitialParameter() {
		t.Error("checkcast preserves the other item fields")
	}
}

func TestStaticallyDecidedBranch(t *testing.T) {
	// iconst_0; ifeq always branches: the fall-through pushes a marker
	// that must never survive
	a := asm()
	a.Op(jvm.ICONST_0).
		Branch(jvm.IFEQ, "taken").
		Bipush(111).
		Op(jvm.IRETURN).
		Label("taken").
		Bipush(42)
	tops, _ := analyzeTops(t, a.MustMethod("demo/T", "f", "()I", true))
	for pc, it := range tops {
		if c, ok := it.Constant().(int32); ok && c == 111 {
			t.Errorf("unreachable fall-through executed at pc %d", pc)
		}
	}

	// iconst_1; ifeq never branches: the target keeps its own path only
	a = asm()
	a.Op(jvm.ICONST_1).
		Branch(jvm.IFEQ, "dead").
		Bipush(7).
		Op(jvm.IRETURN).
		Label("dead").
		Bipush(9).
		Op(jvm.IRETURN)
	tops, an := analyzeTops(t, a.MustMethod("demo/T", "g", "()I", true))
	_ = tops
	// the not-taken branch records no snapshot at the target
	if an.IsJumpTarget(an.Method().Code[4].PC) {
		t.Error("a branch proven not-taken must not record its target")
	}
}

func TestNonNegativeRefinementAfterSignTest(t *testing.T) {
	// iflt on a register: by the next instruction every mirror of that
	// register is known non-negative (on the fall-through path)
	m := asm()
	m.Reg(jvm.ILOAD, 0).
		Branch(jvm.IFLT, "neg").
		Reg(jvm.ILOAD, 0).
		Op(jvm.IRETURN).
		Label("neg").
		Op(jvm.ICONST_0).
		Op(jvm.IRETURN)
	meth := m.MustMethod("demo/T", "f", "(I)I", true)
	tops, _ := analyzeTops(t, meth)
	got := tops[meth.Code[2].PC]
	if got.SpecialKind() != NonNegative {
		t.Errorf("reloaded register after iflt = %v, want NON_NEGATIVE", got.SpecialKind())
	}
}

func TestStackUnderflowYieldsPlaceholder(t *testing.T) {
	ctx := quietContext()
	st := NewState(ctx)
	it := st.Pop()
	if it.Signature() != "Lfindbugs/OpcodeStackError;" {
		t.Errorf("underflow item = %q", it.Signature())
	}
	if got := st.Peek(3); got.Signature() != "Lfindbugs/OpcodeStackError;" {
		t.Errorf("deep peek item = %q", got.Signature())
	}
}

func TestUnknownLocalReadsAsNull(t *testing.T) {
	ctx := quietContext()
	st := NewState(ctx)
	if it := st.Local(9); !it.IsNull() {
		t.Error("unwritten locals read as fresh nulls")
	}
}
