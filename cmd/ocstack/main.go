// cmd/ocstack/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"ocstack/internal/analysis"
	"ocstack/internal/jvm"
	"ocstack/internal/oracle"
)

const VERSION = "1.0.0"

func main() {
	var (
		cachePath = flag.String("cache", "", "persist jump info in a sqlite cache at this path")
		single    = flag.Bool("single", false, "single-pass mode (no fixed-point iteration)")
		debug     = flag.Bool("debug", false, "per-opcode debug logging")
		parallel  = flag.Bool("parallel", false, "analyse the corpus methods concurrently")
	)
	flag.Parse()

	ctx := analysis.NewContext()
	ctx.Iterative = !*single
	if *debug {
		ctx.Debug = true
	}
	if *cachePath != "" {
		cache, err := oracle.OpenSQLiteCache(*cachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ocstack: %v\n", err)
			os.Exit(1)
		}
		defer cache.Close()
		ctx.Cache = cache
	}

	methods := corpus()
	pretty := isatty.IsTerminal(os.Stdout.Fd())

	if *parallel {
		if _, err := analysis.AnalyzeAll(context.Background(), ctx, methods, nil); err != nil {
			fmt.Fprintf(os.Stderr, "ocstack: %v\n", err)
		}
	}

	totalBytes := 0
	totalInstructions := 0
	for _, m := range methods {
		totalBytes += m.MaxPC
		totalInstructions += len(m.Code)
		dumpMethod(ctx, m, pretty)
	}

	fmt.Printf("analysed %s methods, %s instructions, %s of bytecode\n",
		humanize.Comma(int64(len(methods))),
		humanize.Comma(int64(totalInstructions)),
		humanize.Bytes(uint64(totalBytes)))
}

// dumpMethod re-analyses one method, printing the abstract state after
// every opcode.
func dumpMethod(ctx *analysis.Context, m *jvm.Method, pretty bool) {
	fmt.Printf("\n=== %s ===\n", m.Key())
	a := analysis.NewAnalyzer(ctx, m)
	err := a.Run(func(ins *jvm.Instruction, a *analysis.Analyzer) {
		st := a.State()
		marker := " "
		if a.IsJumpTarget(ins.PC) {
			marker = ">"
		}
		if st.IsTop() {
			fmt.Printf("%s %4d  %-16s  (unreachable)\n", marker, ins.PC, ins.Opcode)
			return
		}
		fmt.Printf("%s %4d  %-16s  depth=%d", marker, ins.PC, ins.Opcode, st.Depth())
		if st.Depth() > 0 {
			if pretty {
				fmt.Printf("  tos={%s}", st.Top())
			} else {
				fmt.Printf("  tos=%s", st.Top().Signature())
			}
		}
		fmt.Println()
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ocstack: %s: %v\n", m.Key(), err)
	}
}
