package analysis

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"ocstack/internal/jvm"
)

// AnalyzeAll analyses a batch of methods concurrently, one Analyzer per
// method over a shared read-only context. visitorFor may be nil, or return
// nil for methods that need no detector callback; visitors run on the
// goroutine analysing their method and must not share mutable state.
//
// The returned slice is indexed like methods. The first cache error is
// returned after all methods finish; analysis itself never fails.
func AnalyzeAll(ctx context.Context, actx *Context, methods []*jvm.Method,
	visitorFor func(*jvm.Method) Visitor) ([]*Analyzer, error) {

	analyzers := make([]*Analyzer, len(methods))
	errs := make([]error, len(methods))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, m := range methods {
		i, m := i, m
		g.Go(func() error {
			// a cache failure on one method must not cancel the rest, so
			// errors are collected rather than propagated through the group
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			var visit Visitor
			if visitorFor != nil {
				visit = visitorFor(m)
			}
			a := NewAnalyzer(actx, m)
			errs[i] = a.Run(visit)
			analyzers[i] = a
			return nil
		})
	}
	g.Wait()
	for _, err := range errs {
		if err != nil {
			return analyzers, err
		}
	}
	return analyzers, nil
}
