package analysis

import (
	"math"

	"ocstack/internal/jvm"
)

// transfer applies one instruction to the abstract state. It returns an
// error only for opcodes the analyser cannot model at all; the driver
// recovers by clearing the state and resyncing at the next instruction.
//
// next is the following instruction in offset order, or nil at the end of
// the method; a handful of idiom recognitions peek at it.
func (a *Analyzer) transfer(ins *jvm.Instruction, next *jvm.Instruction) error {
	s := a.st
	op := ins.Opcode
	pc := ins.PC

	switch op {
	case jvm.NOP:

	case jvm.ACONST_NULL:
		it := NullItem()
		it.pc = pc
		s.Push(it)

	case jvm.ICONST_M1, jvm.ICONST_0, jvm.ICONST_1, jvm.ICONST_2, jvm.ICONST_3, jvm.ICONST_4, jvm.ICONST_5:
		a.pushConstant(pc, "I", int32(op)-int32(jvm.ICONST_0))

	case jvm.LCONST_0, jvm.LCONST_1:
		a.pushConstant(pc, "J", int64(op-jvm.LCONST_0))

	case jvm.FCONST_0, jvm.FCONST_1, jvm.FCONST_2:
		a.pushConstant(pc, "F", float32(op-jvm.FCONST_0))

	case jvm.DCONST_0, jvm.DCONST_1:
		a.pushConstant(pc, "D", float64(op-jvm.DCONST_0))

	case jvm.BIPUSH, jvm.SIPUSH:
		v, _ := ins.Value.(int32)
		a.pushConstant(pc, "I", v)

	case jvm.LDC, jvm.LDC_W, jvm.LDC2_W:
		a.pushLoadedConstant(ins)

	case jvm.ILOAD, jvm.ILOAD_0, jvm.ILOAD_1, jvm.ILOAD_2, jvm.ILOAD_3:
		a.pushLoad(ins, loadRegister(ins, jvm.ILOAD_0), "I")
	case jvm.LLOAD, jvm.LLOAD_0, jvm.LLOAD_1, jvm.LLOAD_2, jvm.LLOAD_3:
		a.pushLoad(ins, loadRegister(ins, jvm.LLOAD_0), "J")
	case jvm.FLOAD, jvm.FLOAD_0, jvm.FLOAD_1, jvm.FLOAD_2, jvm.FLOAD_3:
		a.pushLoad(ins, loadRegister(ins, jvm.FLOAD_0), "F")
	case jvm.DLOAD, jvm.DLOAD_0, jvm.DLOAD_1, jvm.DLOAD_2, jvm.DLOAD_3:
		a.pushLoad(ins, loadRegister(ins, jvm.DLOAD_0), "D")
	case jvm.ALOAD, jvm.ALOAD_0, jvm.ALOAD_1, jvm.ALOAD_2, jvm.ALOAD_3:
		reg := loadRegister(ins, jvm.ALOAD_0)
		sig := a.method.LocalTypeAt(reg, pc)
		if sig == "" {
			sig = "Ljava/lang/Object;"
		}
		a.pushLoad(ins, reg, sig)

	case jvm.ISTORE, jvm.ISTORE_0, jvm.ISTORE_1, jvm.ISTORE_2, jvm.ISTORE_3:
		a.popStore(pc, storeRegister(ins, jvm.ISTORE_0))
	case jvm.LSTORE, jvm.LSTORE_0, jvm.LSTORE_1, jvm.LSTORE_2, jvm.LSTORE_3:
		a.popStore(pc, storeRegister(ins, jvm.LSTORE_0))
	case jvm.FSTORE, jvm.FSTORE_0, jvm.FSTORE_1, jvm.FSTORE_2, jvm.FSTORE_3:
		a.popStore(pc, storeRegister(ins, jvm.FSTORE_0))
	case jvm.DSTORE, jvm.DSTORE_0, jvm.DSTORE_1, jvm.DSTORE_2, jvm.DSTORE_3:
		a.popStore(pc, storeRegister(ins, jvm.DSTORE_0))
	case jvm.ASTORE, jvm.ASTORE_0, jvm.ASTORE_1, jvm.ASTORE_2, jvm.ASTORE_3:
		a.popStore(pc, storeRegister(ins, jvm.ASTORE_0))

	case jvm.IINC:
		// modelled as iload; iconst; iadd; istore
		delta, _ := ins.Value.(int32)
		reg := ins.Register
		v := s.Local(reg)
		var out Item
		if c, ok := v.intConstant(); ok {
			out = NewConstantItem("I", c+delta)
		} else {
			out = NewItem("I")
		}
		out.registerNumber = reg
		out.pc = pc
		s.invalidateMirrors(reg)
		s.SetLocal(reg, out)
		s.lastUpdate[reg] = pc

	case jvm.IALOAD, jvm.SALOAD:
		s.PopN(2)
		a.pushFresh(pc, "I", NotSpecial)
	case jvm.BALOAD:
		s.PopN(2)
		a.pushFresh(pc, "I", SignedByte)
	case jvm.CALOAD:
		s.PopN(2)
		a.pushFresh(pc, "I", NonNegative)
	case jvm.LALOAD:
		s.PopN(2)
		a.pushFresh(pc, "J", NotSpecial)
	case jvm.FALOAD:
		s.PopN(2)
		a.pushFresh(pc, "F", NotSpecial)
	case jvm.DALOAD:
		s.PopN(2)
		a.pushFresh(pc, "D", NotSpecial)
	case jvm.AALOAD:
		s.Pop() // index
		arr := s.Pop()
		elem := jvm.ElementSignature(arr.Signature())
		if elem == "" {
			elem = "Ljava/lang/Object;"
		}
		a.pushFresh(pc, elem, NotSpecial)

	case jvm.IASTORE, jvm.LASTORE, jvm.FASTORE, jvm.DASTORE,
		jvm.AASTORE, jvm.BASTORE, jvm.CASTORE, jvm.SASTORE:
		s.PopN(3)

	case jvm.POP:
		s.Pop()
	case jvm.POP2:
		if s.Top().IsWide() {
			s.Pop()
		} else {
			s.PopN(2)
		}
	case jvm.DUP:
		s.Push(s.Top())
	case jvm.DUP_X1:
		v1, v2 := s.Pop(), s.Pop()
		s.Push(v1)
		s.Push(v2)
		s.Push(v1)
	case jvm.DUP_X2:
		v1 := s.Pop()
		if s.Top().IsWide() {
			v2 := s.Pop()
			s.Push(v1)
			s.Push(v2)
		} else {
			v2, v3 := s.Pop(), s.Pop()
			s.Push(v1)
			s.Push(v3)
			s.Push(v2)
		}
		s.Push(v1)
	case jvm.DUP2:
		if s.Top().IsWide() {
			s.Push(s.Top())
		} else {
			v1, v2 := s.Pop(), s.Pop()
			s.Push(v2)
			s.Push(v1)
			s.Push(v2)
			s.Push(v1)
		}
	case jvm.DUP2_X1:
		if s.Top().IsWide() {
			v1, v2 := s.Pop(), s.Pop()
			s.Push(v1)
			s.Push(v2)
			s.Push(v1)
		} else {
			v1, v2, v3 := s.Pop(), s.Pop(), s.Pop()
			s.Push(v2)
			s.Push(v1)
			s.Push(v3)
			s.Push(v2)
			s.Push(v1)
		}
	case jvm.DUP2_X2:
		a.dup2X2()
	case jvm.SWAP:
		v1, v2 := s.Pop(), s.Pop()
		s.Push(v1)
		s.Push(v2)

	case jvm.IADD, jvm.ISUB, jvm.IMUL, jvm.IDIV, jvm.IREM,
		jvm.IAND, jvm.IOR, jvm.IXOR, jvm.ISHL, jvm.ISHR, jvm.IUSHR:
		a.binaryInt(pc, op)

	case jvm.LADD, jvm.LSUB, jvm.LMUL, jvm.LDIV, jvm.LREM,
		jvm.LAND, jvm.LOR, jvm.LXOR:
		a.binaryLong(pc, op)

	case jvm.LSHL, jvm.LSHR, jvm.LUSHR:
		count := s.Pop()
		v := s.Pop()
		out := NewItem("J")
		if c1, ok1 := v.longConstant(); ok1 {
			if c2, ok2 := count.intConstant(); ok2 {
				if r, ok := foldShiftLong(op, c1, c2); ok {
					out = NewConstantItem("J", r)
				}
			}
		}
		out.pc = pc
		s.Push(out)

	case jvm.FADD, jvm.FSUB, jvm.FMUL, jvm.FDIV, jvm.FREM:
		a.binaryFloat(pc, op)

	case jvm.DADD, jvm.DSUB, jvm.DMUL, jvm.DDIV, jvm.DREM:
		a.binaryDouble(pc, op)

	case jvm.INEG:
		a.negate(pc, "I")
	case jvm.LNEG:
		a.negate(pc, "J")
	case jvm.FNEG:
		a.negate(pc, "F")
	case jvm.DNEG:
		a.negate(pc, "D")

	case jvm.I2L, jvm.F2L, jvm.D2L:
		v := s.Pop()
		out := Reinterpret(v, "J")
		if v.kind != SignedByte {
			out.kind = ResultOfI2L
		}
		out.pc = pc
		s.Push(out)
	case jvm.L2I, jvm.F2I, jvm.D2I:
		v := s.Pop()
		out := Reinterpret(v, "I")
		if v.kind == NotSpecial {
			out.kind = ResultOfL2I
		}
		out.pc = pc
		s.Push(out)
	case jvm.I2F, jvm.L2F, jvm.D2F:
		a.convert(pc, "F")
	case jvm.I2D, jvm.L2D, jvm.F2D:
		a.convert(pc, "D")
	case jvm.I2B:
		v := s.Pop()
		out := v
		if c, ok := v.intConstant(); ok {
			out.constant = int32(int8(c))
		}
		if out.kind == NonNegative {
			out.kind = NotSpecial
		}
		out.pc = pc
		s.Push(out)
	case jvm.I2C:
		v := s.Pop()
		out := v
		if c, ok := v.intConstant(); ok {
			out.constant = int32(uint16(c))
		}
		out.pc = pc
		s.Push(out)
	case jvm.I2S:
		v := s.Pop()
		out := v
		if c, ok := v.intConstant(); ok {
			out.constant = int32(int16(c))
		}
		out.pc = pc
		s.Push(out)

	case jvm.LCMP:
		v2, v1 := s.Pop(), s.Pop()
		out := NewItem("I")
		if c1, ok1 := v1.longConstant(); ok1 {
			if c2, ok2 := v2.longConstant(); ok2 {
				out = NewConstantItem("I", compareLongs(c1, c2))
			}
		}
		out.pc = pc
		s.Push(out)
	case jvm.FCMPL, jvm.FCMPG, jvm.DCMPL, jvm.DCMPG:
		a.compareFloating(pc, op)

	case jvm.IFEQ, jvm.IFNE, jvm.IFLT, jvm.IFGE, jvm.IFGT, jvm.IFLE,
		jvm.IFNULL, jvm.IFNONNULL:
		a.branchOne(ins)

	case jvm.IF_ICMPEQ, jvm.IF_ICMPNE, jvm.IF_ICMPLT, jvm.IF_ICMPGE,
		jvm.IF_ICMPGT, jvm.IF_ICMPLE, jvm.IF_ACMPEQ, jvm.IF_ACMPNE:
		a.branchTwo(ins)

	case jvm.GOTO, jvm.GOTO_W:
		a.recognizeNullCheckIdiom(ins, next)
		a.addJumpValue(pc, ins.Target)
		a.reachOnlyByBranch = true

	case jvm.JSR, jvm.JSR_W, jvm.RET:
		// subroutines are not modelled; degrade to an unreachable state
		// and resync at the next merge point
		s.Clear()
		s.setTop(true)

	case jvm.TABLESWITCH, jvm.LOOKUPSWITCH:
		s.Pop()
		a.addJumpValue(pc, ins.DefaultTarget)
		for _, t := range ins.Switches {
			a.addJumpValue(pc, t)
		}
		a.reachOnlyByBranch = true

	case jvm.IRETURN, jvm.LRETURN, jvm.FRETURN, jvm.DRETURN, jvm.ARETURN:
		s.Pop()
		a.reachOnlyByBranch = true
		s.setTop(true)
	case jvm.RETURN:
		a.reachOnlyByBranch = true
		s.setTop(true)
	case jvm.ATHROW:
		s.Pop()
		a.reachOnlyByBranch = true
		s.setTop(true)

	case jvm.GETSTATIC:
		a.getField(ins, maxRegister)
	case jvm.GETFIELD:
		obj := s.Pop()
		a.getField(ins, obj.registerNumber)
	case jvm.PUTSTATIC:
		s.Pop()
		s.eraseKnowledgeOf(ins.Field)
	case jvm.PUTFIELD:
		s.PopN(2)
		s.eraseKnowledgeOf(ins.Field)

	case jvm.INVOKEVIRTUAL, jvm.INVOKESPECIAL, jvm.INVOKESTATIC, jvm.INVOKEINTERFACE:
		a.processMethodCall(ins)
	case jvm.INVOKEDYNAMIC:
		a.processInvokeDynamic(ins)

	case jvm.NEW:
		it := NewItem(jvm.SignatureOfClass(ins.Class))
		it.kind = NewlyAllocated
		it.pc = pc
		s.Push(it)
	case jvm.NEWARRAY:
		count := s.Pop()
		it := NewItem("[" + ins.ArrayType)
		it.kind = NewlyAllocated
		if c, ok := count.intConstant(); ok {
			it.constant = c
		}
		it.pc = pc
		s.Push(it)
	case jvm.ANEWARRAY:
		count := s.Pop()
		it := NewItem("[" + jvm.SignatureOfClass(ins.Class))
		it.kind = NewlyAllocated
		if c, ok := count.intConstant(); ok {
			it.constant = c
		}
		it.pc = pc
		s.Push(it)
	case jvm.MULTIANEWARRAY:
		s.PopN(ins.Dimensions)
		it := NewItem(ins.Class)
		it.kind = NewlyAllocated
		it.pc = pc
		s.Push(it)

	case jvm.ARRAYLENGTH:
		arr := s.Pop()
		out := NewItem("I")
		out.kind = NonNegative
		if c, ok := arr.intConstant(); ok {
			out.constant = c
		}
		out.pc = pc
		s.Push(out)

	case jvm.CHECKCAST:
		v := s.Pop()
		out := Reinterpret(v, jvm.SignatureOfClass(ins.Class))
		s.Push(out)
	case jvm.INSTANCEOF:
		s.Pop()
		a.pushFresh(pc, "I", NotSpecial)

	case jvm.MONITORENTER, jvm.MONITOREXIT:
		s.Pop()

	default:
		return errUnknownOpcode(op, pc)
	}
	return nil
}

// loadRegister resolves the register of a load, folding the _0.._3 short
// forms onto their implicit register.
func loadRegister(ins *jvm.Instruction, zeroForm jvm.Opcode) int {
	if ins.Opcode >= zeroForm && ins.Opcode <= zeroForm+3 {
		return int(ins.Opcode - zeroForm)
	}
	return ins.Register
}

func storeRegister(ins *jvm.Instruction, zeroForm jvm.Opcode) int {
	return loadRegister(ins, zeroForm)
}

func (a *Analyzer) pushConstant(pc int, signature string, v interface{}) {
	it := NewConstantItem(signature, v)
	it.pc = pc
	a.st.Push(it)
}

func (a *Analyzer) pushFresh(pc int, signature string, kind SpecialKind) {
	it := NewItem(signature)
	if kind != NotSpecial {
		it.kind = kind
	}
	it.pc = pc
	a.st.Push(it)
}

// pushLoadedConstant handles the ldc family.
func (a *Analyzer) pushLoadedConstant(ins *jvm.Instruction) {
	var it Item
	switch v := ins.Value.(type) {
	case int32:
		it = NewConstantItem("I", v)
	case int64:
		it = NewConstantItem("J", v)
	case float32:
		it = NewConstantItem("F", v)
	case float64:
		it = NewConstantItem("D", v)
	case string:
		it = NewConstantItem("Ljava/lang/String;", v)
	case jvm.ClassConstant:
		it = NewConstantItem("Ljava/lang/Class;", v.Name)
	case jvm.DynamicConstant:
		// best effort: nominal type, name as the constant, otherwise opaque
		it = NewConstantItem(v.Signature, v.Name)
	default:
		it = NewItem("Ljava/lang/Object;")
	}
	it.pc = ins.PC
	a.st.Push(it)
}

// pushLoad pushes the current value of a register, remembering the mirror.
func (a *Analyzer) pushLoad(ins *jvm.Instruction, register int, defaultSignature string) {
	s := a.st
	var it Item
	if s.hasLocal(register) {
		it = s.Local(register)
	} else {
		it = NewItem(defaultSignature)
	}
	it.registerNumber = register
	s.Push(it)
}

// popStore writes the stack top into a register, invalidating stale
// mirrors of that register elsewhere in the state.
func (a *Analyzer) popStore(pc int, register int) {
	s := a.st
	it := s.Pop()
	if it.registerNumber == -1 {
		it.registerNumber = register
	}
	s.invalidateMirrors(register)
	s.SetLocal(register, it)
	s.lastUpdate[register] = pc
}

// dup2X2 implements all four JVM forms, keyed off abstract slot sizes.
func (a *Analyzer) dup2X2() {
	s := a.st
	if s.Top().IsWide() {
		v1 := s.Pop()
		if s.Top().IsWide() {
			v2 := s.Pop()
			s.Push(v1)
			s.Push(v2)
		} else {
			v2, v3 := s.Pop(), s.Pop()
			s.Push(v1)
			s.Push(v3)
			s.Push(v2)
		}
		s.Push(v1)
		return
	}
	v1, v2 := s.Pop(), s.Pop()
	if s.Top().IsWide() {
		v3 := s.Pop()
		s.Push(v2)
		s.Push(v1)
		s.Push(v3)
	} else {
		v3, v4 := s.Pop(), s.Pop()
		s.Push(v2)
		s.Push(v1)
		s.Push(v4)
		s.Push(v3)
	}
	s.Push(v2)
	s.Push(v1)
}

// binaryInt pops two ints and pushes the result, folding constants and
// attaching the provenance labels the arithmetic rules call for.
func (a *Analyzer) binaryInt(pc int, op jvm.Opcode) {
	s := a.st
	v2 := s.Pop()
	v1 := s.Pop()
	c1, ok1 := v1.intConstant()
	c2, ok2 := v2.intConstant()

	var out Item
	if ok1 && ok2 {
		if r, ok := foldBinaryInt(op, c1, c2); ok {
			out = NewConstantItem("I", r)
		} else {
			out = NewItem("I")
		}
	} else {
		out = NewItem("I")
		out.kind = intResultKind(op, v1, v2, c2, ok2)
	}
	out.pc = pc
	s.Push(out)
}

// intResultKind applies the special-kind rules for non-folded integer
// arithmetic.
func intResultKind(op jvm.Opcode, v1, v2 Item, c2 int32, ok2 bool) SpecialKind {
	switch op {
	case jvm.IADD:
		if v1.constant == nil && v2.constant == nil {
			return IntegerSum
		}
	case jvm.IDIV:
		if ok2 && c2 == 2 && v1.kind == IntegerSum {
			return AverageComputedUsingDivision
		}
	case jvm.ISHR:
		if ok2 && c2 == 1 && v1.kind == IntegerSum {
			return AverageComputedUsingDivision
		}
		if v1.kind == NonNegative {
			return NonNegative
		}
	case jvm.IREM:
		if ok2 && isPowerOfTwo(c2) {
			return NotSpecial
		}
		switch {
		case v1.kind == HashcodeInt:
			return HashcodeIntRemainder
		case v1.kind == RandomInt:
			return RandomIntRemainder
		case v1.CheckForIntegerMinValue():
			return RandomIntRemainder
		}
	case jvm.IAND:
		if v1.kind == ZeroMeansNull || v2.kind == ZeroMeansNull {
			return ZeroMeansNull
		}
		if maskClearsLowByte(v1, v2) {
			return Low8BitsClear
		}
		if (ok2 && c2 >= 0) || v1.constant != nil && mustInt(v1) >= 0 {
			return NonNegative
		}
	case jvm.IOR:
		if v1.kind == NonzeroMeansNull || v2.kind == NonzeroMeansNull {
			return NonzeroMeansNull
		}
		if (ok2 && c2 >= 0) || v1.constant != nil && mustInt(v1) >= 0 {
			return NonNegative
		}
	case jvm.ISHL:
		if ok2 && c2 >= 8 && c2 < 32 {
			return Low8BitsClear
		}
	case jvm.IUSHR:
		if ok2 && c2 > 0 && c2 < 32 {
			return NonNegative
		}
	}
	return NotSpecial
}

func mustInt(it Item) int32 {
	c, _ := it.intConstant()
	return c
}

func isPowerOfTwo(v int32) bool {
	return v > 0 && v&(v-1) == 0
}

// maskClearsLowByte reports whether either operand is an and-mask with the
// low eight bits clear.
func maskClearsLowByte(v1, v2 Item) bool {
	if c, ok := v1.intConstant(); ok && c != 0 && c&0xff == 0 {
		return true
	}
	if c, ok := v2.intConstant(); ok && c != 0 && c&0xff == 0 {
		return true
	}
	return false
}

func (a *Analyzer) binaryLong(pc int, op jvm.Opcode) {
	s := a.st
	v2 := s.Pop()
	v1 := s.Pop()
	out := NewItem("J")
	if c1, ok1 := v1.longConstant(); ok1 {
		if c2, ok2 := v2.longConstant(); ok2 {
			if r, ok := foldBinaryLong(op, c1, c2); ok {
				out = NewConstantItem("J", r)
			}
		}
	}
	out.pc = pc
	s.Push(out)
}

func (a *Analyzer) binaryFloat(pc int, op jvm.Opcode) {
	s := a.st
	v2 := s.Pop()
	v1 := s.Pop()
	var out Item
	c1, ok1 := v1.constant.(float32)
	c2, ok2 := v2.constant.(float32)
	if ok1 && ok2 {
		if r, ok := foldBinaryFloat(op, c1, c2); ok {
			out = NewConstantItem("F", r)
		} else {
			out = NewItem("F")
		}
	} else {
		out = NewItem("F")
		out.kind = FloatMath
	}
	out.pc = pc
	s.Push(out)
}

func (a *Analyzer) binaryDouble(pc int, op jvm.Opcode) {
	s := a.st
	v2 := s.Pop()
	v1 := s.Pop()
	var out Item
	c1, ok1 := v1.constant.(float64)
	c2, ok2 := v2.constant.(float64)
	if ok1 && ok2 {
		if r, ok := foldBinaryDouble(op, c1, c2); ok {
			out = NewConstantItem("D", r)
		} else {
			out = NewItem("D")
		}
	} else {
		out = NewItem("D")
		out.kind = FloatMath
		if op == jvm.DDIV && !ok2 {
			out.kind = NastyFloatMath
		}
	}
	out.pc = pc
	s.Push(out)
}

func (a *Analyzer) negate(pc int, signature string) {
	s := a.st
	v := s.Pop()
	out := NewItem(signature)
	switch c := v.constant.(type) {
	case int32:
		out = NewConstantItem(signature, -c)
	case int64:
		out = NewConstantItem(signature, -c)
	case float32:
		out = NewConstantItem(signature, -c)
	case float64:
		out = NewConstantItem(signature, -c)
	}
	out.pc = pc
	s.Push(out)
}

func (a *Analyzer) convert(pc int, signature string) {
	s := a.st
	v := s.Pop()
	out := Reinterpret(v, signature)
	out.pc = pc
	s.Push(out)
}

func (a *Analyzer) compareFloating(pc int, op jvm.Opcode) {
	s := a.st
	v2 := s.Pop()
	v1 := s.Pop()
	nan := int32(1)
	if op == jvm.FCMPL || op == jvm.DCMPL {
		nan = -1
	}
	out := NewItem("I")
	d1, ok1 := floatingConstant(v1)
	d2, ok2 := floatingConstant(v2)
	if ok1 && ok2 {
		out = NewConstantItem("I", compareDoubles(d1, d2, nan))
	}
	out.pc = pc
	s.Push(out)
}

func floatingConstant(it Item) (float64, bool) {
	switch c := it.constant.(type) {
	case float32:
		return float64(c), true
	case float64:
		return c, true
	}
	return 0, false
}

// branchOne handles the one-operand conditional branches, including the
// register refinements and the static decision on constant operands.
func (a *Analyzer) branchOne(ins *jvm.Instruction) {
	s := a.st
	op := ins.Opcode
	v := s.Pop()

	// a sign test on a mirrored register lets the fall-through path
	// re-tag every copy as non-negative
	if (op == jvm.IFLT || op == jvm.IFLE) && v.registerNumber >= 0 {
		a.registerTestedFoundToBeNonnegative = v.registerNumber
	}

	// one copy just got range-checked: the unbounded provenance no longer
	// tells the detectors anything useful about the others
	if op == jvm.IFLT || op == jvm.IFLE || op == jvm.IFGT || op == jvm.IFGE {
		if v.ValueCouldBeNegative() && v.kind != NotSpecial {
			s.eraseKindEverywhere(v.kind)
		}
	}

	decided, taken := decideBranchOne(op, v)
	a.finishBranch(ins, decided, taken)
}

func decideBranchOne(op jvm.Opcode, v Item) (decided, taken bool) {
	if op == jvm.IFNULL || op == jvm.IFNONNULL {
		if v.IsNull() {
			return true, op == jvm.IFNULL
		}
		return false, false
	}
	c, ok := v.intConstant()
	if !ok {
		return false, false
	}
	switch op {
	case jvm.IFEQ:
		return true, c == 0
	case jvm.IFNE:
		return true, c != 0
	case jvm.IFLT:
		return true, c < 0
	case jvm.IFGE:
		return true, c >= 0
	case jvm.IFGT:
		return true, c > 0
	case jvm.IFLE:
		return true, c <= 0
	}
	return false, false
}

// branchTwo handles the two-operand comparison branches.
func (a *Analyzer) branchTwo(ins *jvm.Instruction) {
	s := a.st
	op := ins.Opcode
	v2 := s.Pop()
	v1 := s.Pop()

	// the Integer.MIN_VALUE guard: comparing an abs-of-unbounded value
	// against MIN_VALUE proves the rare negative case handled
	if op >= jvm.IF_ICMPEQ && op <= jvm.IF_ICMPLE {
		if c, ok := v1.intConstant(); ok && c == math.MinInt32 && v2.MightRarelyBeNegative() {
			s.eraseKindEverywhere(v2.kind)
		}
		if c, ok := v2.intConstant(); ok && c == math.MinInt32 && v1.MightRarelyBeNegative() {
			s.eraseKindEverywhere(v1.kind)
		}
	}

	decided, taken := decideBranchTwo(op, v1, v2)
	a.finishBranch(ins, decided, taken)
}

func decideBranchTwo(op jvm.Opcode, v1, v2 Item) (decided, taken bool) {
	if op == jvm.IF_ACMPEQ || op == jvm.IF_ACMPNE {
		if v1.IsNull() && v2.IsNull() {
			return true, op == jvm.IF_ACMPEQ
		}
		return false, false
	}
	c1, ok1 := v1.intConstant()
	c2, ok2 := v2.intConstant()
	if !ok1 || !ok2 {
		return false, false
	}
	switch op {
	case jvm.IF_ICMPEQ:
		return true, c1 == c2
	case jvm.IF_ICMPNE:
		return true, c1 != c2
	case jvm.IF_ICMPLT:
		return true, c1 < c2
	case jvm.IF_ICMPGE:
		return true, c1 >= c2
	case jvm.IF_ICMPGT:
		return true, c1 > c2
	case jvm.IF_ICMPLE:
		return true, c1 <= c2
	}
	return false, false
}

// finishBranch records the outgoing snapshot per the static decision: an
// undecided branch records and falls through; a branch known taken records
// and kills the fall-through; a branch known not-taken records nothing.
func (a *Analyzer) finishBranch(ins *jvm.Instruction, decided, taken bool) {
	switch {
	case !decided:
		a.addJumpValue(ins.PC, ins.Target)
	case taken:
		a.addJumpValue(ins.PC, ins.Target)
		a.st.setTop(true)
	default:
		// fall through only
	}
}

// getField models getstatic/getfield. The field-summary oracle supplies a
// precomputed value when it vouches for the field; otherwise the load is
// opaque beyond its declared type.
func (a *Analyzer) getField(ins *jvm.Instruction, loadedFromRegister int) {
	s := a.st
	f := ins.Field

	if f.Class == "java/io/File" && f.Name == "separator" {
		it := NewItem(f.Signature)
		it.kind = FileSeparatorString
		it.source = f
		it.fieldLoadedFromRegister = loadedFromRegister
		it.pc = ins.PC
		s.Push(it)
		return
	}

	// only a non-public field can trust its summary: public fields are
	// writable from code the summary pass never saw
	if !f.Public && a.ctx.Fields != nil && a.ctx.Fields.Complete() {
		if sum := a.ctx.Fields.SummaryOf(f); sum != nil {
			sig := sum.Signature
			if sig == "" {
				sig = f.Signature
			}
			var it Item
			if sum.IsNull {
				it = TypedNullItem(sig)
			} else {
				it = NewItem(sig)
				it.constant = sum.Constant
				if sum.SpecialKind != 0 {
					it.kind = SpecialKind(sum.SpecialKind)
				}
			}
			it.source = f
			it.fieldLoadedFromRegister = loadedFromRegister
			it.pc = ins.PC
			s.Push(it)
			return
		}
	}

	it := NewFieldItem(f.Signature, f, loadedFromRegister)
	it.pc = ins.PC
	s.Push(it)
}
