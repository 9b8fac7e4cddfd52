package analysis

import (
	"math"

	"ocstack/internal/jvm"
)

// Constant folding for the arithmetic opcodes. Every function returns an
// explicit ok flag instead of raising on undefined results: division or
// remainder by zero folds to (0, false) and the transfer function pushes a
// non-constant item (the program will throw at runtime; the analyser does
// not).

// foldBinaryInt evaluates a 32-bit arithmetic opcode over two constants.
// v1 is the deeper operand, v2 the one popped first.
func foldBinaryInt(op jvm.Opcode, v1, v2 int32) (int32, bool) {
	switch op {
	case jvm.IADD:
		return v1 + v2, true
	case jvm.ISUB:
		return v1 - v2, true
	case jvm.IMUL:
		return v1 * v2, true
	case jvm.IDIV:
		if v2 == 0 {
			return 0, false
		}
		return jvmDivInt(v1, v2), true
	case jvm.IREM:
		if v2 == 0 {
			return 0, false
		}
		return jvmRemInt(v1, v2), true
	case jvm.IAND:
		return v1 & v2, true
	case jvm.IOR:
		return v1 | v2, true
	case jvm.IXOR:
		return v1 ^ v2, true
	case jvm.ISHL:
		return v1 << (uint32(v2) & 31), true
	case jvm.ISHR:
		return v1 >> (uint32(v2) & 31), true
	case jvm.IUSHR:
		return int32(uint32(v1) >> (uint32(v2) & 31)), true
	}
	return 0, false
}

// jvmDivInt matches JVM idiv: Integer.MIN_VALUE / -1 wraps to MIN_VALUE
// rather than trapping.
func jvmDivInt(v1, v2 int32) int32 {
	if v1 == -1<<31 && v2 == -1 {
		return v1
	}
	return v1 / v2
}

func jvmRemInt(v1, v2 int32) int32 {
	if v1 == -1<<31 && v2 == -1 {
		return 0
	}
	return v1 % v2
}

// foldBinaryLong evaluates a 64-bit arithmetic opcode over two constants.
// Shift opcodes take their count separately as the JVM pops an int there.
func foldBinaryLong(op jvm.Opcode, v1, v2 int64) (int64, bool) {
	switch op {
	case jvm.LADD:
		return v1 + v2, true
	case jvm.LSUB:
		return v1 - v2, true
	case jvm.LMUL:
		return v1 * v2, true
	case jvm.LDIV:
		if v2 == 0 {
			return 0, false
		}
		return jvmDivLong(v1, v2), true
	case jvm.LREM:
		if v2 == 0 {
			return 0, false
		}
		return jvmRemLong(v1, v2), true
	case jvm.LAND:
		return v1 & v2, true
	case jvm.LOR:
		return v1 | v2, true
	case jvm.LXOR:
		return v1 ^ v2, true
	}
	return 0, false
}

func jvmDivLong(v1, v2 int64) int64 {
	if v1 == -1<<63 && v2 == -1 {
		return v1
	}
	return v1 / v2
}

func jvmRemLong(v1, v2 int64) int64 {
	if v1 == -1<<63 && v2 == -1 {
		return 0
	}
	return v1 % v2
}

// foldShiftLong evaluates lshl/lshr/lushr of a long by an int count.
func foldShiftLong(op jvm.Opcode, v1 int64, count int32) (int64, bool) {
	n := uint32(count) & 63
	switch op {
	case jvm.LSHL:
		return v1 << n, true
	case jvm.LSHR:
		return v1 >> n, true
	case jvm.LUSHR:
		return int64(uint64(v1) >> n), true
	}
	return 0, false
}

// foldBinaryFloat evaluates a float arithmetic opcode over two constants.
func foldBinaryFloat(op jvm.Opcode, v1, v2 float32) (float32, bool) {
	switch op {
	case jvm.FADD:
		return v1 + v2, true
	case jvm.FSUB:
		return v1 - v2, true
	case jvm.FMUL:
		return v1 * v2, true
	case jvm.FDIV:
		return v1 / v2, true
	case jvm.FREM:
		return float32(jvmRemDouble(float64(v1), float64(v2))), true
	}
	return 0, false
}

// foldBinaryDouble evaluates a double arithmetic opcode over two constants.
func foldBinaryDouble(op jvm.Opcode, v1, v2 float64) (float64, bool) {
	switch op {
	case jvm.DADD:
		return v1 + v2, true
	case jvm.DSUB:
		return v1 - v2, true
	case jvm.DMUL:
		return v1 * v2, true
	case jvm.DDIV:
		return v1 / v2, true
	case jvm.DREM:
		return jvmRemDouble(v1, v2), true
	}
	return 0, false
}

// jvmRemDouble is IEEE remainder with the JVM's truncated-quotient
// semantics (math.Mod, not math.Remainder).
func jvmRemDouble(v1, v2 float64) float64 {
	return math.Mod(v1, v2)
}

// compareLongs is the lcmp result.
func compareLongs(v1, v2 int64) int32 {
	switch {
	case v1 < v2:
		return -1
	case v1 > v2:
		return 1
	}
	return 0
}

// compareDoubles is the fcmpg/fcmpl/dcmpg/dcmpl result; nanResult is +1 for
// the g forms and -1 for the l forms.
func compareDoubles(v1, v2 float64, nanResult int32) int32 {
	if math.IsNaN(v1) || math.IsNaN(v2) {
		return nanResult
	}
	switch {
	case v1 < v2:
		return -1
	case v1 > v2:
		return 1
	}
	return 0
}
