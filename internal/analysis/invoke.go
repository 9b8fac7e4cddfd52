package analysis

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"ocstack/internal/jvm"
)

// boxedTypes maps the wrapper classes to their primitive signature.
var boxedTypes = map[string]string{
	"java/lang/Boolean":   "Z",
	"java/lang/Byte":      "B",
	"java/lang/Character": "C",
	"java/lang/Short":     "S",
	"java/lang/Integer":   "I",
	"java/lang/Long":      "J",
	"java/lang/Float":     "F",
	"java/lang/Double":    "D",
}

var unboxMethods = map[string]bool{
	"booleanValue": true, "byteValue": true, "charValue": true, "shortValue": true,
	"intValue": true, "longValue": true, "floatValue": true, "doubleValue": true,
}

// collectionFactories maps "class.method" of the JDK collection factory
// methods to the synthetic type their result is known to be.
var collectionFactories = map[string]string{
	"java/util/Arrays.asList":                  "Ljava/util/Arrays$ArrayList;",
	"java/util/Collections.emptyList":          "Ljava/util/Collections$EmptyList;",
	"java/util/Collections.emptySet":           "Ljava/util/Collections$EmptySet;",
	"java/util/Collections.emptyMap":           "Ljava/util/Collections$EmptyMap;",
	"java/util/Collections.singletonList":      "Ljava/util/Collections$SingletonList;",
	"java/util/Collections.singleton":          "Ljava/util/Collections$SingletonSet;",
	"java/util/Collections.singletonMap":       "Ljava/util/Collections$SingletonMap;",
	"java/util/Collections.unmodifiableList":   "Ljava/util/Collections$UnmodifiableList;",
	"java/util/Collections.unmodifiableSet":    "Ljava/util/Collections$UnmodifiableSet;",
	"java/util/Collections.unmodifiableMap":    "Ljava/util/Collections$UnmodifiableMap;",
	"java/util/Collections.unmodifiableCollection": "Ljava/util/Collections$UnmodifiableCollection;",
	"java/util/Collections.unmodifiableSortedSet":  "Ljava/util/Collections$UnmodifiableSortedSet;",
	"java/util/Collections.unmodifiableSortedMap":  "Ljava/util/Collections$UnmodifiableSortedMap;",
	"java/util/List.of":     "Ljava/util/ImmutableCollections$ListN;",
	"java/util/List.copyOf": "Ljava/util/ImmutableCollections$ListN;",
	"java/util/Set.of":      "Ljava/util/ImmutableCollections$SetN;",
	"java/util/Set.copyOf":  "Ljava/util/ImmutableCollections$SetN;",
	"java/util/Map.of":      "Ljava/util/ImmutableCollections$MapN;",
	"java/util/Map.copyOf":  "Ljava/util/ImmutableCollections$MapN;",
}

func isBuilderClass(class string) bool {
	return class == "java/lang/StringBuilder" || class == "java/lang/StringBuffer"
}

func isServletRequestClass(class string) bool {
	switch class {
	case "javax/servlet/http/HttpServletRequest", "javax/servlet/ServletRequest",
		"jakarta/servlet/http/HttpServletRequest", "jakarta/servlet/ServletRequest":
		return true
	}
	return false
}

func isServletResponseClass(class string) bool {
	switch class {
	case "javax/servlet/http/HttpServletResponse", "jakarta/servlet/http/HttpServletResponse":
		return true
	}
	return false
}

// processMethodCall models an invokevirtual/special/static/interface. The
// pattern-specific behaviours run in priority order; whatever falls
// through is handled generically by pushByInvoke.
func (a *Analyzer) processMethodCall(ins *jvm.Instruction) {
	s := a.st
	m := ins.Method
	pc := ins.PC
	class, name, sig := m.Class, m.Name, m.Signature
	args := jvm.ArgumentSignatures(sig)
	ret := jvm.ReturnSignature(sig)
	static := ins.Opcode == jvm.INVOKESTATIC

	// a builder handed to arbitrary code escapes: its accumulated
	// constant can no longer be trusted
	a.invalidateEscapedBuilders(len(args))

	// boxing and unboxing preserve the underlying value
	if prim, boxed := boxedTypes[class]; boxed {
		if static && name == "valueOf" && len(args) == 1 && args[0] != "Ljava/lang/String;" {
			arg := s.Pop()
			out := Reinterpret(arg, ret)
			out.source = m
			seedBoxedKind(&out, prim)
			out.pc = pc
			s.Push(out)
			return
		}
		if !static && unboxMethods[name] && len(args) == 0 {
			recv := s.Pop()
			out := Reinterpret(recv, ret)
			out.source = m
			seedBoxedKind(&out, prim)
			out.pc = pc
			s.Push(out)
			return
		}
	}

	if isBuilderClass(class) && !static {
		switch {
		case name == "append" && len(args) == 1 && ret != "V":
			a.appendToBuilder(ins, args[0])
			return
		case name == "toString" && len(args) == 0:
			recv := s.Pop()
			out := NewItem(ret)
			out.constant = recv.constant
			if recv.kind == ServletRequestTainted {
				out.kind = ServletRequestTainted
				out.injection = recv.injection
			}
			out.source = m
			out.pc = pc
			s.Push(out)
			return
		}
	}

	if isServletRequestClass(class) {
		switch name {
		case "getParameter", "getHeader", "getQueryString":
			inj := &InjectionPoint{PC: pc}
			if len(args) == 1 {
				if p, ok := s.Top().constant.(string); ok {
					inj.ParameterName = p
				}
			}
			s.PopN(len(args))
			s.Pop() // receiver
			out := NewItem(ret)
			out.kind = ServletRequestTainted
			out.injection = inj
			out.source = m
			out.pc = pc
			s.Push(out)
			return
		}
	}

	// response encoders sanitise nothing: taint passes through
	if isServletResponseClass(class) && strings.HasPrefix(name, "encode") && len(args) == 1 && ret == "Ljava/lang/String;" {
		arg := s.Pop()
		s.Pop() // receiver
		out := NewItem(ret)
		if arg.kind == ServletRequestTainted {
			out.kind = ServletRequestTainted
			out.injection = arg.injection
		}
		out.source = m
		out.pc = pc
		s.Push(out)
		return
	}

	if static && (class == "java/util/Objects" && name == "requireNonNull" ||
		class == "com/google/common/base/Preconditions" && name == "checkNotNull") && len(args) >= 1 {
		first := s.Peek(len(args) - 1)
		s.PopN(len(args))
		s.Push(first)
		return
	}

	if class == "java/lang/String" && !static && a.stringConstantCall(ins, name, sig, args) {
		return
	}

	// the static to-string family folds the same way the instance methods
	// do: String.valueOf(x) and the wrapper toString(x) forms
	if static && ret == "Ljava/lang/String;" && len(args) == 1 {
		_, wrapper := boxedTypes[class]
		if class == "java/lang/String" && name == "valueOf" || wrapper && name == "toString" {
			arg := s.Pop()
			out := NewItem(ret)
			if cs, ok := stringifyConstant(arg.constant, args[0]); ok {
				out.constant = cs
			}
			if arg.kind == ServletRequestTainted {
				out.kind = ServletRequestTainted
				out.injection = arg.injection
			}
			out.source = m
			out.pc = pc
			s.Push(out)
			return
		}
	}

	if name == "<init>" {
		a.processConstructor(ins, args)
		return
	}

	retOverride := ret
	if synthetic, ok := collectionFactories[class+"."+name]; ok && static && ret != "V" {
		retOverride = synthetic
		if name == "unmodifiableList" && len(args) == 1 &&
			s.Top().Signature() == "Ljava/util/Arrays$ArrayList;" {
			retOverride = "Ljava/util/Collections$UnmodifiableRandomAccessList;"
		}
	}

	kind := a.callResultKind(ins, class, name, sig, ret, static)
	a.pushByInvoke(ins, static, len(args), retOverride, kind)
}

// seedBoxedKind applies the signature-derived kinds to an un/boxed value
// that does not already carry one.
func seedBoxedKind(it *Item, primitive string) {
	if it.kind != NotSpecial {
		return
	}
	it.kind = kindFromSignature(primitive)
}

// invalidateEscapedBuilders forgets the tracked constant of any
// StringBuilder/StringBuffer sitting in the argument positions of the
// current call. Every copy of an escaping builder goes: the callee can
// mutate the object behind all of them.
func (a *Analyzer) invalidateEscapedBuilders(argCount int) {
	s := a.st
	escaped := false
	for i := 0; i < argCount && i < s.Depth(); i++ {
		if isBuilderClass(jvm.ClassOf(s.Peek(i).Signature())) {
			escaped = true
			break
		}
	}
	if !escaped {
		return
	}
	for i := 0; i < s.Depth(); i++ {
		it := s.Peek(i)
		if isBuilderClass(jvm.ClassOf(it.Signature())) && it.constant != nil {
			it.constant = nil
			s.Replace(i, it)
		}
	}
	for r := 0; r < s.LocalCount(); r++ {
		if !s.hasLocal(r) {
			continue
		}
		it := s.Local(r)
		if isBuilderClass(jvm.ClassOf(it.Signature())) && it.constant != nil {
			it.constant = nil
			s.SetLocal(r, it)
		}
	}
}

// appendToBuilder tracks the constant accumulated through append calls.
func (a *Analyzer) appendToBuilder(ins *jvm.Instruction, argSig string) {
	s := a.st
	arg := s.Pop()
	recv := s.Pop()
	out := recv

	if ins.Method.Signature == "([CII)Ljava/lang/StringBuilder;" ||
		ins.Method.Signature == "([CII)Ljava/lang/StringBuffer;" {
		out.constant = nil
	} else if rc, ok := recv.constant.(string); ok {
		if suffix, ok := stringifyConstant(arg.constant, argSig); ok {
			out.constant = rc + suffix
		} else {
			out.constant = nil
		}
	} else {
		out.constant = nil
	}

	if arg.kind == ServletRequestTainted {
		out.kind = ServletRequestTainted
		out.injection = arg.injection
	} else if recv.kind == ServletRequestTainted {
		out.kind = ServletRequestTainted
		out.injection = recv.injection
	}

	out.source = ins.Method
	out.pc = ins.PC
	s.Push(out)
}

// stringifyConstant renders a constant the way string concatenation would.
// Float constants are not rendered; Java's float formatting is not worth
// imitating for the detectors that consume these values.
func stringifyConstant(c interface{}, signature string) (string, bool) {
	switch v := c.(type) {
	case string:
		return v, true
	case int32:
		switch signature {
		case "C":
			return string(rune(v)), true
		case "Z":
			if v != 0 {
				return "true", true
			}
			return "false", true
		default:
			return strconv.FormatInt(int64(v), 10), true
		}
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

// stringConstantCall folds String methods applied to a known literal and
// keeps taint flowing through trim. Returns false when the call is not one
// of the modelled patterns.
func (a *Analyzer) stringConstantCall(ins *jvm.Instruction, name, sig string, args []string) bool {
	s := a.st
	recv := s.Peek(len(args))
	c, isConst := recv.constant.(string)

	switch name + sig {
	case "length()I":
		if !isConst {
			return false
		}
		s.Pop()
		out := NewConstantItem("I", int32(len(utf16.Encode([]rune(c)))))
		out.source = ins.Method
		out.pc = ins.PC
		s.Push(out)
		return true
	case "trim()Ljava/lang/String;":
		s.Pop()
		out := NewItem("Ljava/lang/String;")
		if isConst {
			out.constant = javaTrim(c)
		}
		if recv.kind == ServletRequestTainted {
			out.kind = ServletRequestTainted
			out.injection = recv.injection
		}
		out.source = ins.Method
		out.pc = ins.PC
		s.Push(out)
		return true
	case "toString()Ljava/lang/String;", "intern()Ljava/lang/String;":
		if !isConst {
			return false
		}
		s.Pop()
		out := NewConstantItem("Ljava/lang/String;", c)
		out.source = ins.Method
		out.pc = ins.PC
		s.Push(out)
		return true
	}
	return false
}

// javaTrim strips leading and trailing chars <= ' ', matching
// String.trim rather than Unicode white space.
func javaTrim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return r <= ' ' })
}

// processConstructor pops the arguments and the receiver, then rewrites
// the duplicate left underneath by the usual new/dup/invokespecial idiom
// so that the visible object carries the construction provenance.
func (a *Analyzer) processConstructor(ins *jvm.Instruction, args []string) {
	s := a.st
	m := ins.Method
	argItems := make([]Item, len(args))
	for i := range args {
		argItems[len(args)-1-i] = s.Peek(i)
	}
	s.PopN(len(args))
	recv := s.Pop()

	if s.Depth() == 0 || !SameValue(s.Top(), recv) {
		return
	}

	out := recv
	out.source = m
	out.pc = ins.PC

	switch {
	case isBuilderClass(m.Class):
		out.constant = ""
		if len(args) == 1 && args[0] == "Ljava/lang/String;" {
			out.constant = nil
			if c, ok := argItems[0].constant.(string); ok {
				out.constant = c
			}
			if argItems[0].kind == ServletRequestTainted {
				out.kind = ServletRequestTainted
				out.injection = argItems[0].injection
			}
		} else if len(args) == 1 && args[0] != "I" {
			out.constant = nil
		}
	case m.Class == "java/io/FileOutputStream" && len(args) == 2 && args[1] == "Z":
		if c, ok := argItems[1].intConstant(); ok && c == 1 {
			out.kind = FileOpenedInAppendMode
		}
	case m.Class == "java/io/BufferedOutputStream" && len(args) >= 1:
		if argItems[0].kind == FileOpenedInAppendMode {
			out.kind = FileOpenedInAppendMode
		}
	}

	s.Replace(0, out)
}

// callResultKind computes the special kind of a generic call's result.
func (a *Analyzer) callResultKind(ins *jvm.Instruction, class, name, sig, ret string, static bool) SpecialKind {
	s := a.st

	if class == "java/util/Random" || class == "java/security/SecureRandom" {
		switch {
		case name == "nextInt" && sig == "()I", name == "nextLong" && sig == "()J":
			return RandomInt
		case name == "nextDouble" && sig == "()D", name == "nextFloat" && sig == "()F":
			return FloatMath
		}
	}

	if !static && name == "hashCode" && sig == "()I" {
		return HashcodeInt
	}
	if class == "java/lang/System" && name == "identityHashCode" && sig == "(Ljava/lang/Object;)I" {
		return HashcodeInt
	}

	if class == "java/lang/Math" && static {
		if name == "abs" {
			switch s.Top().kind {
			case HashcodeInt:
				return MathAbsOfHashcode
			case RandomInt:
				return MathAbsOfRandom
			}
			return MathAbs
		}
		if name != "min" && name != "max" && (ret == "D" || ret == "F") {
			return FloatMath
		}
	}

	if isServletResponseClass(class) && (name == "getOutputStream" || name == "getWriter") {
		return ServletOutput
	}

	if !static && name == "size" && sig == "()I" && a.ctx.Hierarchy != nil {
		if ok, err := a.ctx.Hierarchy.IsSubtype(jvm.Dotted(class), "java.util.Collection"); err == nil && ok {
			return NonNegative
		}
	}

	return NotSpecial
}

// pushByInvoke is the generic call model: pop arguments and receiver, push
// a fresh return value sourced to the callee.
func (a *Analyzer) pushByInvoke(ins *jvm.Instruction, static bool, argCount int, ret string, kind SpecialKind) {
	s := a.st
	s.PopN(argCount)
	if !static {
		s.Pop()
	}
	if ret == "V" {
		return
	}
	it := NewItem(ret)
	if kind != NotSpecial {
		it.kind = kind
	}
	it.source = ins.Method
	it.pc = ins.PC
	s.Push(it)
}

// processInvokeDynamic models indy call sites. String concatenation via
// makeConcatWithConstants is reconstructed from the bootstrap template;
// anything else pops per signature and pushes an opaque result.
func (a *Analyzer) processInvokeDynamic(ins *jvm.Instruction) {
	s := a.st
	sig := ins.Method.Signature
	args := jvm.ArgumentSignatures(sig)
	ret := jvm.ReturnSignature(sig)

	if ins.Method.Name == "makeConcatWithConstants" && ins.Bootstrap != nil && len(ins.Bootstrap.Args) > 0 {
		if template, ok := ins.Bootstrap.Args[0].(string); ok {
			a.concatWithConstants(ins, template, args, ret)
			return
		}
	}

	s.PopN(len(args))
	if ret != "V" {
		it := NewItem(ret)
		it.source = ins.Method
		it.pc = ins.PC
		s.Push(it)
	}
}

// concatWithConstants folds the StringConcatFactory template when the call
// site has at most two operands and every one has a known constant, and
// propagates taint otherwise. Sites with more operands are not folded.
func (a *Analyzer) concatWithConstants(ins *jvm.Instruction, template string, args []string, ret string) {
	s := a.st
	n := len(args)

	argItems := make([]Item, n)
	for i := 0; i < n; i++ {
		argItems[n-1-i] = s.Peek(i)
	}

	var taintedFrom *Item
	for i := range argItems {
		if argItems[i].kind == ServletRequestTainted {
			taintedFrom = &argItems[i]
			break
		}
	}

	out := NewItem(ret)
	parts := strings.Split(template, "\x01")
	if taintedFrom == nil && len(parts) == n+1 && n <= 2 {
		folded := parts[0]
		allKnown := true
		for i := 0; i < n; i++ {
			piece, ok := stringifyConstant(argItems[i].constant, args[i])
			if !ok {
				allKnown = false
				break
			}
			folded += piece + parts[i+1]
		}
		if allKnown {
			out.constant = folded
		}
	}
	if taintedFrom != nil {
		out.kind = ServletRequestTainted
		out.injection = taintedFrom.injection
	}

	s.PopN(n)
	out.source = ins.Method
	out.pc = ins.PC
	s.Push(out)
}
