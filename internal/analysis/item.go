package analysis

import (
	"fmt"
	"math"
	"strings"

	"ocstack/internal/jvm"
)

// Item flag bits.
const (
	flagInitialParameter uint8 = 1 << iota
	flagCouldBeZero
	flagNull
)

// maxRegister marks a value loaded from a static field in
// FieldLoadedFromRegister.
const maxRegister = math.MaxInt32

// InjectionPoint records where a tainted value entered the method.
type InjectionPoint struct {
	ParameterName string // "" when the parameter was not a string constant
	PC            int
}

// Item is one abstract value: the signature it is known to have, an
// optional constant, an optional provenance source, a special-kind label,
// and assorted bookkeeping. Items live in exactly one stack or local slot;
// operations that keep a value around copy it.
type Item struct {
	signature string
	constant  interface{} // int32, int64, float32, float64, string, or nil
	source    interface{} // *jvm.FieldRef or *jvm.MethodRef, or nil
	kind      SpecialKind
	flags     uint8

	registerNumber          int
	fieldLoadedFromRegister int
	pc                      int

	userValue interface{}
	injection *InjectionPoint
}

// blank returns an item with the slot bookkeeping reset.
func blank() Item {
	return Item{registerNumber: -1, fieldLoadedFromRegister: -1, pc: -1}
}

// NewItem returns a value of the given type with no constant. Primitive
// byte values are born SIGNED_BYTE; char values are never negative.
func NewItem(signature string) Item {
	it := blank()
	it.signature = signature
	it.kind = kindFromSignature(signature)
	return it
}

func kindFromSignature(signature string) SpecialKind {
	switch signature {
	case "B":
		return SignedByte
	case "C":
		return NonNegative
	}
	return NotSpecial
}

// NewConstantItem returns a constant literal of the given type. A non-zero
// integer constant with its low eight bits clear is labelled
// LOW_8_BITS_CLEAR; a zero constant is marked could-be-zero.
func NewConstantItem(signature string, constant interface{}) Item {
	it := NewItem(signature)
	it.constant = constant
	switch v := constant.(type) {
	case int32:
		if v != 0 && v&0xff == 0 {
			it.kind = Low8BitsClear
		}
		if v == 0 {
			it.flags |= flagCouldBeZero
		}
	case int64:
		if v != 0 && v&0xff == 0 {
			it.kind = Low8BitsClear
		}
		if v == 0 {
			it.flags |= flagCouldBeZero
		}
	case float32:
		if v == 0 {
			it.flags |= flagCouldBeZero
		}
	case float64:
		if v == 0 {
			it.flags |= flagCouldBeZero
		}
	}
	return it
}

// NewFieldItem returns the value of a field load. registerLoadedFrom is the
// register holding the object whose instance field was read, or maxRegister
// for a static field.
func NewFieldItem(signature string, field *jvm.FieldRef, registerLoadedFrom int) Item {
	it := NewItem(signature)
	it.source = field
	it.fieldLoadedFromRegister = registerLoadedFrom
	return it
}

// NullItem returns the untyped null literal.
func NullItem() Item {
	it := blank()
	it.signature = "Ljava/lang/Object;"
	it.flags = flagNull
	return it
}

// TypedNullItem returns a null of a known reference type.
func TypedNullItem(signature string) Item {
	it := NullItem()
	it.signature = signature
	return it
}

// InitialArgument returns the item seeding a method's incoming argument in
// the given register.
func InitialArgument(signature string, register int) Item {
	it := NewItem(signature)
	it.registerNumber = register
	it.flags |= flagInitialParameter
	return it
}

// Reinterpret returns the item under a new type, as produced by
// conversions, boxing, and checkcast. Numeric constants are converted to
// the new type; a non-reference result forgets any field or method source.
func Reinterpret(it Item, newSignature string) Item {
	out := it
	out.signature = newSignature
	out.constant = convertConstant(it.constant, newSignature)
	if !jvm.IsReference(newSignature) {
		out.source = nil
		out.fieldLoadedFromRegister = -1
	}
	return out
}

// convertConstant coerces a numeric constant to the representation of the
// target signature. Non-numeric constants pass through for reference
// targets and are dropped otherwise.
func convertConstant(c interface{}, signature string) interface{} {
	if c == nil {
		return nil
	}
	if jvm.IsReference(signature) {
		return c
	}
	var asLong int64
	var asDouble float64
	switch v := c.(type) {
	case int32:
		asLong, asDouble = int64(v), float64(v)
	case int64:
		asLong, asDouble = v, float64(v)
	case float32:
		asLong, asDouble = int64(v), float64(v)
	case float64:
		asLong, asDouble = int64(v), v
	default:
		return nil
	}
	switch signature {
	case "I", "S", "Z":
		return int32(asLong)
	case "B":
		return int32(int8(asLong))
	case "C":
		return int32(uint16(asLong))
	case "J":
		return asLong
	case "F":
		return float32(asDouble)
	case "D":
		return asDouble
	}
	return nil
}

// Signature returns the JVM type descriptor of the value.
func (it Item) Signature() string { return it.signature }

// Constant returns the literal value if known: int32, int64, float32,
// float64, or string. Nil when unknown.
func (it Item) Constant() interface{} { return it.constant }

// SpecialKind returns the value's provenance label.
func (it Item) SpecialKind() SpecialKind { return it.kind }

// Source returns the field or method the value came from, if any:
// a *jvm.FieldRef or a *jvm.MethodRef.
func (it Item) Source() interface{} { return it.source }

// ReturnValueOf returns the callee whose return value this is, or nil.
func (it Item) ReturnValueOf() *jvm.MethodRef {
	m, _ := it.source.(*jvm.MethodRef)
	return m
}

// FieldSource returns the field this value was loaded from, or nil.
func (it Item) FieldSource() *jvm.FieldRef {
	f, _ := it.source.(*jvm.FieldRef)
	return f
}

// IsNull reports whether the value is the null literal.
func (it Item) IsNull() bool { return it.flags&flagNull != 0 }

// CouldBeZero reports whether the value may be zero.
func (it Item) CouldBeZero() bool { return it.flags&flagCouldBeZero != 0 }

// IsInitialParameter reports whether the value is still a method argument
// unchanged since entry.
func (it Item) IsInitialParameter() bool { return it.flags&flagInitialParameter != 0 }

// RegisterNumber returns the local slot this value mirrors, or -1.
func (it Item) RegisterNumber() int { return it.registerNumber }

// FieldLoadedFromRegister returns the register of the object whose instance
// field produced this value, maxRegister for a static field, -1 for none.
func (it Item) FieldLoadedFromRegister() int { return it.fieldLoadedFromRegister }

// PC returns the offset where the value was produced, or -1.
func (it Item) PC() int { return it.pc }

// SetSpecialKind relabels the value; detectors use this to attach kinds
// they registered themselves.
func (it *Item) SetSpecialKind(k SpecialKind) { it.kind = k }

// UserValue returns the opaque detector slot.
func (it Item) UserValue() interface{} { return it.userValue }

// SetUserValue stores into the opaque detector slot.
func (it *Item) SetUserValue(v interface{}) { it.userValue = v }

// Injection returns where the taint entered, when the value is
// SERVLET_REQUEST_TAINTED and the entry point is known.
func (it Item) Injection() *InjectionPoint { return it.injection }

// Size returns the number of stack slots the value counts for: 2 for long
// and double, 1 otherwise.
func (it Item) Size() int { return jvm.SlotsOf(it.signature) }

// IsWide reports whether the value is a two-slot primitive.
func (it Item) IsWide() bool { return it.Size() == 2 }

// IsNonNegative reports whether the value is known to be >= 0: either
// labelled NON_NEGATIVE or a non-negative integer constant.
func (it Item) IsNonNegative() bool {
	if it.kind == NonNegative {
		return true
	}
	switch v := it.constant.(type) {
	case int32:
		return v >= 0
	case int64:
		return v >= 0
	}
	return false
}

// ValueCouldBeNegative reports whether the value belongs to one of the
// unbounded-signed provenances and has not been proven non-negative.
func (it Item) ValueCouldBeNegative() bool {
	if it.IsNonNegative() {
		return false
	}
	switch it.kind {
	case RandomInt, SignedByte, HashcodeInt,
		RandomIntRemainder, HashcodeIntRemainder,
		MathAbsOfRandom, MathAbsOfHashcode:
		return true
	}
	return false
}

// CheckForIntegerMinValue reports whether Math.abs of this value can still
// be negative (Integer.MIN_VALUE survives abs).
func (it Item) CheckForIntegerMinValue() bool {
	return it.kind == RandomInt || it.kind == HashcodeInt
}

// MightRarelyBeNegative reports whether the value is an abs of an unbounded
// source, negative only on the MIN_VALUE edge.
func (it Item) MightRarelyBeNegative() bool {
	return it.kind == MathAbsOfRandom || it.kind == MathAbsOfHashcode
}

// intConstant returns the 32-bit integer constant, if the value has one.
func (it Item) intConstant() (int32, bool) {
	v, ok := it.constant.(int32)
	return v, ok
}

// longConstant returns the 64-bit integer constant, if the value has one.
func (it Item) longConstant() (int64, bool) {
	v, ok := it.constant.(int64)
	return v, ok
}

// SameValue reports structural equality of the analysis-visible parts of
// two items, ignoring the detector slot.
func SameValue(a, b Item) bool {
	return a.signature == b.signature &&
		a.constant == b.constant &&
		sameSource(a.source, b.source) &&
		a.kind == b.kind &&
		a.flags == b.flags &&
		a.registerNumber == b.registerNumber &&
		a.fieldLoadedFromRegister == b.fieldLoadedFromRegister &&
		a.pc == b.pc
}

func sameSource(a, b interface{}) bool {
	if a == b {
		return true
	}
	af, aok := a.(*jvm.FieldRef)
	bf, bok := b.(*jvm.FieldRef)
	if aok && bok {
		return *af == *bf
	}
	am, aok := a.(*jvm.MethodRef)
	bm, bok := b.(*jvm.MethodRef)
	if aok && bok {
		return *am == *bm
	}
	return false
}

// String renders the item for debug dumps.
func (it Item) String() string {
	var sb strings.Builder
	sb.WriteString(it.signature)
	if it.constant != nil {
		fmt.Fprintf(&sb, " = %v", it.constant)
	}
	if it.IsNull() {
		sb.WriteString(" null")
	}
	if it.kind != NotSpecial {
		sb.WriteString(" [" + it.kind.String() + "]")
	}
	if it.registerNumber >= 0 {
		fmt.Fprintf(&sb, " r%d", it.registerNumber)
	}
	if m := it.ReturnValueOf(); m != nil {
		fmt.Fprintf(&sb, " <- %s.%s", m.Class, m.Name)
	}
	if f := it.FieldSource(); f != nil {
		fmt.Fprintf(&sb, " <- %s.%s", f.Class, f.Name)
	}
	return sb.String()
}
