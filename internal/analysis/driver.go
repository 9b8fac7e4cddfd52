package analysis

import (
	"github.com/pkg/errors"

	"ocstack/internal/jvm"
)

// maxIterations caps the fixed-point loop; methods that have not
// stabilised by then keep their last snapshots and a warning is logged.
const maxIterations = 40

// Visitor is the detector callback, invoked after each opcode's transfer
// with read access to the abstract state.
type Visitor func(ins *jvm.Instruction, a *Analyzer)

// Analyzer drives the abstract interpretation of one method: it walks the
// instruction stream in offset order, merges recorded snapshots at branch
// targets before each opcode, applies the transfer function, and iterates
// until the jump tables stop changing.
type Analyzer struct {
	ctx    *Context
	method *jvm.Method
	st     *State

	jumpEntries        map[int][]Item
	jumpStackEntries   map[int][]Item
	jumpEntryLocations map[int]bool

	exceptionHandlers map[int]string // handler pc -> caught class, "" for any

	reachOnlyByBranch                  bool
	registerTestedFoundToBeNonnegative int

	sawBackBranch                    bool
	jumpInfoChangedByBackwardsBranch bool
	jumpInfoChangedByNewTarget       bool

	// the ifnull/iconst boolean idiom replacement, due at a specific pc
	pendingRewritePC int
	pendingRewrite   Item

	// iconst_0;goto;iconst_1 materialisation state machines, values 0..3
	convertJumpToOneZeroState int
	convertJumpToZeroOneState int

	prevOpcode     jvm.Opcode
	prevPrevOpcode jvm.Opcode
	prevPC         int
	prevPrevPC     int
}

// NewAnalyzer prepares an analyzer for one method under the given context.
func NewAnalyzer(ctx *Context, method *jvm.Method) *Analyzer {
	a := &Analyzer{
		ctx:                ctx,
		method:             method,
		st:                 NewState(ctx),
		jumpEntries:        make(map[int][]Item),
		jumpStackEntries:   make(map[int][]Item),
		jumpEntryLocations: make(map[int]bool),
		exceptionHandlers:  make(map[int]string),
	}
	for i := range method.ExceptionHandlers {
		h := &method.ExceptionHandlers[i]
		a.exceptionHandlers[h.HandlerPC] = h.CatchType
	}
	return a
}

// State exposes the abstract state at the current program point.
func (a *Analyzer) State() *State { return a.st }

// Method returns the method under analysis.
func (a *Analyzer) Method() *jvm.Method { return a.method }

// IsJumpTarget reports whether the pc has been recorded as a branch
// target.
func (a *Analyzer) IsJumpTarget(pc int) bool { return a.jumpEntryLocations[pc] }

// Run analyses the method to a fixed point (or a single pass when the
// context disables iteration), invoking visit after every opcode. Errors
// from the cache are reported but never abort the analysis.
func (a *Analyzer) Run(visit Visitor) error {
	var cacheErr error
	if a.ctx.Cache != nil {
		blob, err := a.ctx.Cache.Load(a.method.Key())
		if err != nil {
			cacheErr = errors.Wrap(err, "loading jump info")
			a.ctx.logf("%s: %v", a.method.Key(), cacheErr)
		} else if blob != nil {
			if info, err := DecodeJumpInfo(blob); err != nil {
				a.ctx.logf("%s: corrupt jump info discarded: %v", a.method.Key(), err)
			} else {
				a.seedJumpInfo(info)
			}
		}
	}

	iteration := 0
	for {
		a.resetScan()
		a.scan(visit)
		if !a.ctx.Iterative || !a.sawBackBranch {
			break
		}
		if !a.jumpInfoChangedByBackwardsBranch && !a.jumpInfoChangedByNewTarget {
			break
		}
		if a.jumpInfoChangedByNewTarget {
			iteration = 0
		}
		iteration++
		if iteration > maxIterations {
			a.ctx.logf("%s: no fixed point after %d iterations, emitting last snapshots",
				a.method.Key(), maxIterations)
			break
		}
	}

	if a.ctx.Cache != nil {
		blob, err := EncodeJumpInfo(a.JumpInfo())
		if err == nil {
			err = a.ctx.Cache.Store(a.method.Key(), blob)
		}
		if err != nil {
			cacheErr = errors.Wrap(err, "storing jump info")
			a.ctx.logf("%s: %v", a.method.Key(), cacheErr)
		}
	}
	return cacheErr
}

// resetScan reinitialises the per-pass state: empty stack, locals seeded
// with the incoming arguments, idiom machines cleared. The jump tables
// persist across passes; they are what the iteration refines.
func (a *Analyzer) resetScan() {
	a.st.Clear()
	a.st.lastUpdate = make(map[int]int)

	reg := 0
	if !a.method.Static {
		a.st.SetLocal(0, InitialArgument(jvm.SignatureOfClass(a.method.ClassName), 0))
		reg = 1
	}
	for _, sig := range jvm.ArgumentSignatures(a.method.Signature) {
		a.st.SetLocal(reg, InitialArgument(sig, reg))
		reg += jvm.SlotsOf(sig)
	}

	a.reachOnlyByBranch = false
	a.registerTestedFoundToBeNonnegative = -1
	a.sawBackBranch = false
	a.jumpInfoChangedByBackwardsBranch = false
	a.jumpInfoChangedByNewTarget = false
	a.pendingRewritePC = -1
	a.convertJumpToOneZeroState = 0
	a.convertJumpToZeroOneState = 0
	a.prevOpcode, a.prevPrevOpcode = jvm.NOP, jvm.NOP
	a.prevPC, a.prevPrevPC = -1, -1
}

// scan is one pass over the instruction stream.
func (a *Analyzer) scan(visit Visitor) {
	code := a.method.Code
	for i := range code {
		ins := &code[i]
		var next *jvm.Instruction
		if i+1 < len(code) {
			next = &code[i+1]
		}

		a.precomputation(ins)

		if a.st.IsTop() {
			// unreachable by fall-through: state untouched, but branch
			// targets are still recorded so later passes can enter them
			a.recordTargetLocations(ins)
		} else {
			a.applyWithRecovery(ins, next)
		}

		if visit != nil {
			visit(ins, a)
		}
	}
}

// applyWithRecovery runs the transfer function, absorbing both returned
// errors and panics: the offending instruction clears the state and the
// walk resynchronises at the next merge point.
func (a *Analyzer) applyWithRecovery(ins *jvm.Instruction, next *jvm.Instruction) {
	defer func() {
		if r := recover(); r != nil {
			a.ctx.logf("%s: recovered at pc %d (%s): %v", a.method.Key(), ins.PC, ins.Opcode, r)
			a.st.Clear()
			a.st.setTop(true)
		}
	}()
	if err := a.transfer(ins, next); err != nil {
		a.ctx.logf("%s: %v", a.method.Key(), err)
		a.st.Clear()
		a.st.setTop(true)
		return
	}
	a.afterOpcode(ins)
	if a.ctx.Debug {
		a.ctx.debugf("pc %4d %-16s depth=%d", ins.PC, ins.Opcode, a.st.Depth())
	}
}

// precomputation runs before each opcode: the deferred register
// refinement, then the merge of any snapshot recorded at this pc.
func (a *Analyzer) precomputation(ins *jvm.Instruction) {
	if r := a.registerTestedFoundToBeNonnegative; r >= 0 {
		a.st.markNonNegative(r)
		a.registerTestedFoundToBeNonnegative = -1
	}
	a.mergeJumps(ins)
}

// mergeJumps folds pending idiom rewrites and the recorded snapshot at the
// current pc into the state.
func (a *Analyzer) mergeJumps(ins *jvm.Instruction) {
	pc := ins.PC
	s := a.st

	if a.pendingRewritePC == pc {
		if s.Depth() > 0 {
			s.Replace(0, a.pendingRewrite)
		}
		a.pendingRewritePC = -1
		a.convertJumpToOneZeroState = 0
		a.convertJumpToZeroOneState = 0
	} else if a.convertJumpToOneZeroState == 3 || a.convertJumpToZeroOneState == 3 {
		// both arms of the branch materialised a 0 or a 1: collapse to a
		// single int that may be zero
		if s.Depth() > 0 {
			it := NewItem("I")
			it.flags |= flagCouldBeZero
			it.pc = s.Top().pc
			s.Replace(0, it)
		}
		a.convertJumpToOneZeroState = 0
		a.convertJumpToZeroOneState = 0
	}

	entry, has := a.jumpEntries[pc]
	stackEntry, hasStack := a.jumpStackEntries[pc]
	switch {
	case has:
		if s.IsTop() || a.reachOnlyByBranch {
			s.restoreLocals(entry)
			if hasStack {
				s.restoreStack(stackEntry)
			} else {
				s.restoreStack(nil)
			}
			s.setTop(false)
		} else {
			merged, _ := mergeLists(s.snapshotLocals(), entry, a.ctx)
			s.restoreLocals(merged)
			if hasStack && len(stackEntry) == s.Depth() {
				mergedStack, _ := mergeLists(s.snapshotStack(), stackEntry, a.ctx)
				s.restoreStack(mergedStack)
			} else if hasStack {
				a.ctx.debugf("pc %d: stack depth mismatch at join (%d vs %d)",
					pc, s.Depth(), len(stackEntry))
			}
		}
	case a.reachOnlyByBranch || s.IsTop():
		if catch, isHandler := a.exceptionHandlers[pc]; isHandler {
			// handler entry: locals survive, the stack holds just the
			// caught exception
			sig := "Ljava/lang/Throwable;"
			if catch != "" {
				sig = jvm.SignatureOfClass(catch)
			}
			s.restoreStack(nil)
			caught := NewItem(sig)
			caught.pc = pc
			s.Push(caught)
			s.setTop(false)
		} else if a.reachOnlyByBranch {
			s.setTop(true)
		}
	}
	a.reachOnlyByBranch = false
}

// addJumpValue records the outgoing snapshot for a branch from one pc to
// another, merging with any snapshot already there. Changed backwards
// entries are what force another pass.
func (a *Analyzer) addJumpValue(from, target int) {
	if a.st.IsTop() {
		a.jumpEntryLocations[target] = true
		return
	}
	if from >= target {
		a.sawBackBranch = true
	}

	locals := a.st.snapshotLocals()
	stack := a.st.snapshotStack()

	entry, exists := a.jumpEntries[target]
	if !exists {
		a.jumpEntries[target] = locals
		if len(stack) > 0 {
			a.jumpStackEntries[target] = stack
		}
		a.jumpEntryLocations[target] = true
		if from >= target {
			a.jumpInfoChangedByNewTarget = true
		}
		return
	}

	merged, changed := mergeLists(entry, locals, a.ctx)
	a.jumpEntries[target] = merged
	if se, ok := a.jumpStackEntries[target]; ok {
		mergedStack, stackChanged := mergeLists(se, stack, a.ctx)
		a.jumpStackEntries[target] = mergedStack
		changed = changed || stackChanged
	} else if len(stack) > 0 {
		a.jumpStackEntries[target] = stack
		changed = true
	}
	if changed && from >= target {
		a.jumpInfoChangedByBackwardsBranch = true
	}
}

// recordTargetLocations notes branch targets reached from an unreachable
// point, without contributing state.
func (a *Analyzer) recordTargetLocations(ins *jvm.Instruction) {
	switch ins.Opcode {
	case jvm.GOTO, jvm.GOTO_W, jvm.JSR, jvm.JSR_W:
		a.jumpEntryLocations[ins.Target] = true
	case jvm.TABLESWITCH, jvm.LOOKUPSWITCH:
		a.jumpEntryLocations[ins.DefaultTarget] = true
		for _, t := range ins.Switches {
			a.jumpEntryLocations[t] = true
		}
	default:
		if ins.Opcode.IsBranch() {
			a.jumpEntryLocations[ins.Target] = true
		}
	}
}

// recognizeNullCheckIdiom fires at a goto: the ifnull/iconst/goto/iconst
// shape materialises a boolean encoding of a null check, and both arms are
// replaced with one labelled value so the join keeps the meaning.
func (a *Analyzer) recognizeNullCheckIdiom(ins *jvm.Instruction, next *jvm.Instruction) {
	if next == nil {
		return
	}
	if a.prevPrevOpcode != jvm.IFNULL && a.prevPrevOpcode != jvm.IFNONNULL {
		return
	}
	if a.prevOpcode != jvm.ICONST_0 && a.prevOpcode != jvm.ICONST_1 {
		return
	}
	if next.Opcode != jvm.ICONST_0 && next.Opcode != jvm.ICONST_1 {
		return
	}
	if next.Opcode == a.prevOpcode {
		return
	}

	// which constant reaches the join when the reference was null?
	var nullPathIsZero bool
	if a.prevPrevOpcode == jvm.IFNULL {
		nullPathIsZero = next.Opcode == jvm.ICONST_0
	} else {
		nullPathIsZero = a.prevOpcode == jvm.ICONST_0
	}

	syn := NewItem("I")
	if nullPathIsZero {
		syn.kind = NonzeroMeansNull
	} else {
		syn.kind = ZeroMeansNull
	}
	syn.flags |= flagCouldBeZero
	syn.pc = a.prevPrevPC

	if a.st.Depth() > 0 {
		a.st.Replace(0, syn)
	}
	a.pendingRewritePC = next.PC + next.Opcode.Length()
	a.pendingRewrite = syn
}

// afterOpcode advances the short-sequence trackers behind the idiom
// recognisers.
func (a *Analyzer) afterOpcode(ins *jvm.Instruction) {
	op := ins.Opcode

	switch op {
	case jvm.ICONST_0:
		if a.convertJumpToOneZeroState == 2 {
			a.convertJumpToOneZeroState = 3
		} else {
			a.convertJumpToOneZeroState = 0
		}
		a.convertJumpToZeroOneState = 1
	case jvm.ICONST_1:
		if a.convertJumpToZeroOneState == 2 {
			a.convertJumpToZeroOneState = 3
		} else {
			a.convertJumpToZeroOneState = 0
		}
		a.convertJumpToOneZeroState = 1
	case jvm.GOTO:
		if a.convertJumpToZeroOneState == 1 {
			a.convertJumpToZeroOneState = 2
		} else {
			a.convertJumpToZeroOneState = 0
		}
		if a.convertJumpToOneZeroState == 1 {
			a.convertJumpToOneZeroState = 2
		} else {
			a.convertJumpToOneZeroState = 0
		}
	default:
		a.convertJumpToOneZeroState = 0
		a.convertJumpToZeroOneState = 0
	}

	a.prevPrevOpcode, a.prevPrevPC = a.prevOpcode, a.prevPC
	a.prevOpcode, a.prevPC = op, ins.PC
}

// seedJumpInfo installs a previously-computed snapshot set before the
// first pass.
func (a *Analyzer) seedJumpInfo(info *JumpInfo) {
	for pc, items := range info.Entries {
		a.jumpEntries[pc] = append([]Item(nil), items...)
	}
	for pc, items := range info.StackEntries {
		a.jumpStackEntries[pc] = append([]Item(nil), items...)
	}
	for pc := range info.Locations {
		a.jumpEntryLocations[pc] = true
	}
}

// JumpInfo returns a deep copy of the jump tables after the last pass,
// suitable for persisting in the analysis cache.
func (a *Analyzer) JumpInfo() *JumpInfo {
	info := &JumpInfo{
		Entries:      make(map[int][]Item, len(a.jumpEntries)),
		StackEntries: make(map[int][]Item, len(a.jumpStackEntries)),
		Locations:    make(map[int]bool, len(a.jumpEntryLocations)),
	}
	for pc, items := range a.jumpEntries {
		info.Entries[pc] = append([]Item(nil), items...)
	}
	for pc, items := range a.jumpStackEntries {
		info.StackEntries[pc] = append([]Item(nil), items...)
	}
	for pc := range a.jumpEntryLocations {
		info.Locations[pc] = true
	}
	return info
}
