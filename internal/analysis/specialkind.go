package analysis

import (
	"fmt"
	"sync"
)

// SpecialKind is a semantic label attached to an abstract value, capturing
// its provenance or a known property (came from Random.nextInt, is a
// hash-code remainder, carries servlet taint, ...). The kinds referenced by
// the transfer function are a closed core set; detectors can register
// further kinds at runtime and they ride through merges as opaque labels.
type SpecialKind int

const (
	NotSpecial SpecialKind = iota
	SignedByte
	RandomInt
	Low8BitsClear
	HashcodeInt
	IntegerSum
	AverageComputedUsingDivision
	FloatMath
	RandomIntRemainder
	HashcodeIntRemainder
	FileSeparatorString
	MathAbs
	MathAbsOfRandom
	MathAbsOfHashcode
	NonNegative
	NastyFloatMath
	FileOpenedInAppendMode
	ServletRequestTainted
	NewlyAllocated
	ZeroMeansNull
	NonzeroMeansNull
	ResultOfI2L
	ResultOfL2I
	ServletOutput
	TypeOnly

	firstUserKind
)

var specialKindRegistry = struct {
	sync.Mutex
	names map[SpecialKind]string
	next  SpecialKind
}{
	names: map[SpecialKind]string{
		NotSpecial:                   "NOT_SPECIAL",
		SignedByte:                   "SIGNED_BYTE",
		RandomInt:                    "RANDOM_INT",
		Low8BitsClear:                "LOW_8_BITS_CLEAR",
		HashcodeInt:                  "HASHCODE_INT",
		IntegerSum:                   "INTEGER_SUM",
		AverageComputedUsingDivision: "AVERAGE_COMPUTED_USING_DIVISION",
		FloatMath:                    "FLOAT_MATH",
		RandomIntRemainder:           "RANDOM_INT_REMAINDER",
		HashcodeIntRemainder:         "HASHCODE_INT_REMAINDER",
		FileSeparatorString:          "FILE_SEPARATOR_STRING",
		MathAbs:                      "MATH_ABS",
		MathAbsOfRandom:              "MATH_ABS_OF_RANDOM",
		MathAbsOfHashcode:            "MATH_ABS_OF_HASHCODE",
		NonNegative:                  "NON_NEGATIVE",
		NastyFloatMath:               "NASTY_FLOAT_MATH",
		FileOpenedInAppendMode:       "FILE_OPENED_IN_APPEND_MODE",
		ServletRequestTainted:        "SERVLET_REQUEST_TAINTED",
		NewlyAllocated:               "NEWLY_ALLOCATED",
		ZeroMeansNull:                "ZERO_MEANS_NULL",
		NonzeroMeansNull:             "NONZERO_MEANS_NULL",
		ResultOfI2L:                  "RESULT_OF_I2L",
		ResultOfL2I:                  "RESULT_OF_L2I",
		ServletOutput:                "SERVLET_OUTPUT",
		TypeOnly:                     "TYPE_ONLY",
	},
	next: firstUserKind,
}

// DefineSpecialKind registers a new kind under a fresh tag. Safe for
// concurrent use; tags are never reused.
func DefineSpecialKind(name string) SpecialKind {
	r := &specialKindRegistry
	r.Lock()
	defer r.Unlock()
	k := r.next
	r.next++
	r.names[k] = name
	return k
}

// String returns the registered name of the kind.
func (k SpecialKind) String() string {
	r := &specialKindRegistry
	r.Lock()
	defer r.Unlock()
	if name, ok := r.names[k]; ok {
		return name
	}
	return fmt.Sprintf("SPECIAL_KIND(%d)", int(k))
}
