package jvm

import "fmt"

// Assembler builds a resolved instruction stream with realistic pc spacing.
// It exists for tests and the debug corpus; production input comes from the
// framework's class-file reader.
type Assembler struct {
	code     []Instruction
	pc       int
	labels   map[string]int
	fixups   []fixup
	handlers []ExceptionHandler
	locals   []LocalVariable
}

// fixup defers label resolution until Method(), when the code and handler
// slices are final.
type fixup struct {
	label string
	patch func(a *Assembler, pc int)
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

func (a *Assembler) emit(ins Instruction, length int) *Assembler {
	ins.PC = a.pc
	if ins.Register == 0 {
		// register 0 is only meaningful on opcodes that take one
		switch ins.Opcode {
		case ILOAD, LLOAD, FLOAD, DLOAD, ALOAD,
			ISTORE, LSTORE, FSTORE, DSTORE, ASTORE, IINC, RET:
		default:
			ins.Register = -1
		}
	}
	a.code = append(a.code, ins)
	a.pc += length
	return a
}

// Op appends a no-operand instruction.
func (a *Assembler) Op(op Opcode) *Assembler {
	return a.emit(Instruction{Opcode: op}, op.Length())
}

// Reg appends an instruction with a register operand (iload, astore, ret...).
func (a *Assembler) Reg(op Opcode, register int) *Assembler {
	return a.emit(Instruction{Opcode: op, Register: register}, op.Length())
}

// Iinc appends an iinc of delta on the given register.
func (a *Assembler) Iinc(register int, delta int32) *Assembler {
	return a.emit(Instruction{Opcode: IINC, Register: register, Value: delta}, IINC.Length())
}

// Bipush appends a bipush of the given byte value.
func (a *Assembler) Bipush(v int32) *Assembler {
	return a.emit(Instruction{Opcode: BIPUSH, Value: v}, BIPUSH.Length())
}

// Sipush appends a sipush of the given short value.
func (a *Assembler) Sipush(v int32) *Assembler {
	return a.emit(Instruction{Opcode: SIPUSH, Value: v}, SIPUSH.Length())
}

// Ldc appends an ldc-family instruction for the given constant: int32,
// float32, string, ClassConstant, or DynamicConstant under ldc; int64 and
// float64 under ldc2_w.
func (a *Assembler) Ldc(v interface{}) *Assembler {
	op := LDC
	switch v.(type) {
	case int64, float64:
		op = LDC2_W
	}
	return a.emit(Instruction{Opcode: op, Value: v}, op.Length())
}

// Label records the current pc under a name usable as a branch target.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = a.pc
	return a
}

// Branch appends a branch, goto, or jsr targeting a label (which may be
// defined later).
func (a *Assembler) Branch(op Opcode, label string) *Assembler {
	a.emit(Instruction{Opcode: op}, op.Length())
	i := len(a.code) - 1
	a.fixups = append(a.fixups, fixup{label, func(a *Assembler, pc int) { a.code[i].Target = pc }})
	return a
}

// TableSwitch appends a switch with the given default and case labels.
func (a *Assembler) TableSwitch(defaultLabel string, caseLabels ...string) *Assembler {
	length := 16 + 4*len(caseLabels) // approximate; pcs only need to be increasing
	a.emit(Instruction{Opcode: TABLESWITCH, Switches: make([]int, len(caseLabels))}, length)
	i := len(a.code) - 1
	a.fixups = append(a.fixups, fixup{defaultLabel, func(a *Assembler, pc int) { a.code[i].DefaultTarget = pc }})
	for k, lbl := range caseLabels {
		k := k
		a.fixups = append(a.fixups, fixup{lbl, func(a *Assembler, pc int) { a.code[i].Switches[k] = pc }})
	}
	return a
}

// LookupSwitch appends a lookupswitch with the given default and case labels.
func (a *Assembler) LookupSwitch(defaultLabel string, caseLabels ...string) *Assembler {
	length := 16 + 8*len(caseLabels)
	a.emit(Instruction{Opcode: LOOKUPSWITCH, Switches: make([]int, len(caseLabels))}, length)
	i := len(a.code) - 1
	a.fixups = append(a.fixups, fixup{defaultLabel, func(a *Assembler, pc int) { a.code[i].DefaultTarget = pc }})
	for k, lbl := range caseLabels {
		k := k
		a.fixups = append(a.fixups, fixup{lbl, func(a *Assembler, pc int) { a.code[i].Switches[k] = pc }})
	}
	return a
}

// FieldOp appends a field-access instruction with a fully-specified field
// reference, access flag included.
func (a *Assembler) FieldOp(op Opcode, f FieldRef) *Assembler {
	ref := f
	return a.emit(Instruction{Opcode: op, Field: &ref}, op.Length())
}

// GetStatic appends a getstatic of the given field. The shorthand field
// helpers build non-public refs; use FieldOp when the access flag matters.
func (a *Assembler) GetStatic(class, name, signature string) *Assembler {
	f := &FieldRef{Class: class, Name: name, Signature: signature, Static: true}
	return a.emit(Instruction{Opcode: GETSTATIC, Field: f}, GETSTATIC.Length())
}

// PutStatic appends a putstatic of the given field.
func (a *Assembler) PutStatic(class, name, signature string) *Assembler {
	f := &FieldRef{Class: class, Name: name, Signature: signature, Static: true}
	return a.emit(Instruction{Opcode: PUTSTATIC, Field: f}, PUTSTATIC.Length())
}

// GetField appends a getfield of the given field.
func (a *Assembler) GetField(class, name, signature string) *Assembler {
	f := &FieldRef{Class: class, Name: name, Signature: signature}
	return a.emit(Instruction{Opcode: GETFIELD, Field: f}, GETFIELD.Length())
}

// PutField appends a putfield of the given field.
func (a *Assembler) PutField(class, name, signature string) *Assembler {
	f := &FieldRef{Class: class, Name: name, Signature: signature}
	return a.emit(Instruction{Opcode: PUTFIELD, Field: f}, PUTFIELD.Length())
}

// Invoke appends an invoke instruction for the given callee.
func (a *Assembler) Invoke(op Opcode, class, name, signature string) *Assembler {
	m := &MethodRef{Class: class, Name: name, Signature: signature}
	return a.emit(Instruction{Opcode: op, Method: m}, op.Length())
}

// InvokeDynamic appends an invokedynamic call site.
func (a *Assembler) InvokeDynamic(name, signature string, bootstrap *BootstrapMethod) *Assembler {
	m := &MethodRef{Name: name, Signature: signature}
	return a.emit(Instruction{Opcode: INVOKEDYNAMIC, Method: m, Bootstrap: bootstrap}, INVOKEDYNAMIC.Length())
}

// New appends a new of the given class.
func (a *Assembler) New(class string) *Assembler {
	return a.emit(Instruction{Opcode: NEW, Class: class}, NEW.Length())
}

// Type appends a checkcast, instanceof, or anewarray of the given class.
func (a *Assembler) Type(op Opcode, class string) *Assembler {
	return a.emit(Instruction{Opcode: op, Class: class}, op.Length())
}

// NewArray appends a newarray of the given primitive element signature.
func (a *Assembler) NewArray(elementSignature string) *Assembler {
	return a.emit(Instruction{Opcode: NEWARRAY, ArrayType: elementSignature}, NEWARRAY.Length())
}

// MultiANewArray appends a multianewarray of the given array class and
// dimension count.
func (a *Assembler) MultiANewArray(class string, dimensions int) *Assembler {
	return a.emit(Instruction{Opcode: MULTIANEWARRAY, Class: class, Dimensions: dimensions}, MULTIANEWARRAY.Length())
}

// Handler records an exception-table row by labels.
func (a *Assembler) Handler(startLabel, endLabel, handlerLabel, catchType string) *Assembler {
	a.handlers = append(a.handlers, ExceptionHandler{CatchType: catchType})
	i := len(a.handlers) - 1
	a.fixups = append(a.fixups,
		fixup{startLabel, func(a *Assembler, pc int) { a.handlers[i].StartPC = pc }},
		fixup{endLabel, func(a *Assembler, pc int) { a.handlers[i].EndPC = pc }},
		fixup{handlerLabel, func(a *Assembler, pc int) { a.handlers[i].HandlerPC = pc }})
	return a
}

// Local records a local-variable-table row covering the whole method.
func (a *Assembler) Local(register int, name, signature string) *Assembler {
	a.locals = append(a.locals, LocalVariable{
		Register: register, StartPC: 0, Length: 1 << 30, Name: name, Signature: signature,
	})
	return a
}

// Method resolves all labels and returns the assembled method.
func (a *Assembler) Method(class, name, signature string, static bool) (*Method, error) {
	for _, f := range a.fixups {
		pc, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("assembler: undefined label %q", f.label)
		}
		f.patch(a, pc)
	}
	return &Method{
		ClassName:         class,
		Name:              name,
		Signature:         signature,
		Static:            static,
		Code:              a.code,
		MaxPC:             a.pc,
		ExceptionHandlers: a.handlers,
		LocalVariables:    a.locals,
	}, nil
}

// MustMethod is Method, panicking on undefined labels. Test helper.
func (a *Assembler) MustMethod(class, name, signature string, static bool) *Method {
	m, err := a.Method(class, name, signature, static)
	if err != nil {
		panic(err)
	}
	return m
}
