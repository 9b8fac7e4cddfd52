package analysis

import (
	"log"
	"os"

	"ocstack/internal/oracle"
)

// Context carries everything an Analyzer needs besides the method itself:
// feature flags, the external oracles, and the debug logger. A Context is
// read-only after construction and safe to share across goroutines.
type Context struct {
	// Iterative selects the fixed-point mode: re-scan the method until the
	// jump tables stabilise. When false a single pass is made, seeded with
	// whatever jump info the cache supplies (typically derived from the
	// class file's StackMapTable).
	Iterative bool

	// Debug enables per-opcode state dumps on the logger.
	Debug bool

	Fields    oracle.FieldSummaries
	Hierarchy oracle.Hierarchy
	Cache     oracle.JumpInfoCache

	Logger *log.Logger
}

// NewContext returns a context with the iterative mode on, no oracles, and
// debugging wired to the OCSTACK_DEBUG environment variable.
func NewContext() *Context {
	return &Context{
		Iterative: true,
		Debug:     os.Getenv("OCSTACK_DEBUG") != "",
		Logger:    log.New(os.Stderr, "ocstack: ", 0),
	}
}

func (c *Context) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

func (c *Context) debugf(format string, args ...interface{}) {
	if c.Debug && c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
