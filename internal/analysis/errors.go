package analysis

import (
	"fmt"

	"github.com/pkg/errors"

	"ocstack/internal/jvm"
)

// ErrorKind classifies recoverable analysis failures. None of them is
// fatal to the enclosing analysis; the driver degrades to an unreachable
// state and resynchronises at the next merge point.
type ErrorKind string

const (
	UnknownOpcode    ErrorKind = "UnknownOpcode"
	MalformedCode    ErrorKind = "MalformedCode"
	NonConvergence   ErrorKind = "NonConvergence"
	CacheUnavailable ErrorKind = "CacheUnavailable"
)

// AnalysisError carries the failure kind and the offset it occurred at.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
	PC      int
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %s (pc %d)", e.Kind, e.Message, e.PC)
}

func errUnknownOpcode(op jvm.Opcode, pc int) error {
	return &AnalysisError{Kind: UnknownOpcode, Message: fmt.Sprintf("opcode %#02x", byte(op)), PC: pc}
}

// IsRecoverable reports whether the error is one the driver absorbs.
func IsRecoverable(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae)
}
