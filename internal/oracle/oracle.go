// Package oracle declares the external collaborators the analyser consults:
// the field-summary database, the class hierarchy, and the jump-info cache.
// The analyser owns none of them; the enclosing framework supplies
// implementations, and every interface tolerates a nil answer.
package oracle

import (
	"github.com/pkg/errors"

	"ocstack/internal/jvm"
)

// FieldValue is the precomputed model of a field's value as stored in the
// summary database: the pieces of an abstract item that survive between
// methods.
type FieldValue struct {
	Signature   string
	Constant    interface{}
	SpecialKind int  // analysis.SpecialKind; int here to keep the package leaf-level
	IsNull      bool // field is known to hold only null
}

// FieldSummaries answers what is known about a field's possible values.
type FieldSummaries interface {
	// SummaryOf returns the field's value model, or nil when nothing is
	// known.
	SummaryOf(field *jvm.FieldRef) *FieldValue

	// Complete reports whether the summary pass covered the whole
	// application; only then may non-public fields trust their summaries.
	Complete() bool
}

// ErrClassNotFound signals that the hierarchy oracle has no definition for
// a class; callers must treat the relation as unknown.
var ErrClassNotFound = errors.New("class not found in repository")

// Hierarchy answers subtype questions over dotted class names.
type Hierarchy interface {
	IsSubtype(dottedClass, dottedSuper string) (bool, error)
}

// JumpInfoCache loads and stores per-method jump-table snapshots between
// analysis passes. The payload is the analysis package's encoded JumpInfo;
// this package carries it opaquely so persistent implementations stay
// leaf-level. Load returns (nil, nil) on a miss.
type JumpInfoCache interface {
	Load(methodKey string) ([]byte, error)
	Store(methodKey string, encoded []byte) error
}
