package main

import (
	"ocstack/internal/jvm"
)

// The built-in corpus: small synthetic methods exercising the analyser's
// interesting paths, used to eyeball per-pc state while developing
// detectors.
func corpus() []*jvm.Method {
	var methods []*jvm.Method

	// Math.abs(new Random().nextInt())
	a := jvm.NewAssembler()
	a.New("java/util/Random").
		Op(jvm.DUP).
		Invoke(jvm.INVOKESPECIAL, "java/util/Random", "<init>", "()V").
		Invoke(jvm.INVOKEVIRTUAL, "java/util/Random", "nextInt", "()I").
		Invoke(jvm.INVOKESTATIC, "java/lang/Math", "abs", "(I)I").
		Op(jvm.IRETURN)
	methods = append(methods, a.MustMethod("demo/Corpus", "absOfRandom", "()I", true))

	// Math.cos(0.0) on a constant operand
	a = jvm.NewAssembler()
	a.Op(jvm.DCONST_0).
		Invoke(jvm.INVOKESTATIC, "java/lang/Math", "cos", "(D)D").
		Op(jvm.DRETURN)
	methods = append(methods, a.MustMethod("demo/Corpus", "cosOfConstant", "()D", true))

	// boolean nullness materialisation: x == null ? 0 : 1
	a = jvm.NewAssembler()
	a.Reg(jvm.ALOAD, 0).
		Branch(jvm.IFNULL, "isnull").
		Op(jvm.ICONST_1).
		Branch(jvm.GOTO, "join").
		Label("isnull").
		Op(jvm.ICONST_0).
		Label("join").
		Op(jvm.IRETURN)
	methods = append(methods, a.MustMethod("demo/Corpus", "nullnessBit", "(Ljava/lang/Object;)I", true))

	// StringBuilder constant tracking
	a = jvm.NewAssembler()
	a.New("java/lang/StringBuilder").
		Op(jvm.DUP).
		Invoke(jvm.INVOKESPECIAL, "java/lang/StringBuilder", "<init>", "()V").
		Ldc("x").
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/StringBuilder", "append",
			"(Ljava/lang/String;)Ljava/lang/StringBuilder;").
		Ldc("y").
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/StringBuilder", "append",
			"(Ljava/lang/String;)Ljava/lang/StringBuilder;").
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/StringBuilder", "toString",
			"()Ljava/lang/String;").
		Op(jvm.ARETURN)
	methods = append(methods, a.MustMethod("demo/Corpus", "builderConstant", "()Ljava/lang/String;", true))

	// servlet taint through trim
	a = jvm.NewAssembler()
	a.Reg(jvm.ALOAD, 0).
		Ldc("name").
		Invoke(jvm.INVOKEINTERFACE, "javax/servlet/http/HttpServletRequest",
			"getParameter", "(Ljava/lang/String;)Ljava/lang/String;").
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/String", "trim", "()Ljava/lang/String;").
		Op(jvm.ARETURN)
	methods = append(methods, a.MustMethod("demo/Corpus", "taintedParameter",
		"(Ljavax/servlet/http/HttpServletRequest;)Ljava/lang/String;", true))

	// a counting loop, to watch the fixed point converge
	a = jvm.NewAssembler()
	a.Op(jvm.ICONST_0).
		Reg(jvm.ISTORE, 1).
		Label("head").
		Reg(jvm.ILOAD, 1).
		Bipush(10).
		Branch(jvm.IF_ICMPGE, "done").
		Iinc(1, 1).
		Branch(jvm.GOTO, "head").
		Label("done").
		Reg(jvm.ILOAD, 1).
		Op(jvm.IRETURN)
	methods = append(methods, a.MustMethod("demo/Corpus", "countToTen", "()I", true))

	// hash-bucket index: Math.abs(key.hashCode() % 17)
	a = jvm.NewAssembler()
	a.Reg(jvm.ALOAD, 0).
		Invoke(jvm.INVOKEVIRTUAL, "java/lang/Object", "hashCode", "()I").
		Bipush(17).
		Op(jvm.IREM).
		Invoke(jvm.INVOKESTATIC, "java/lang/Math", "abs", "(I)I").
		Op(jvm.IRETURN)
	methods = append(methods, a.MustMethod("demo/Corpus", "bucketIndex", "(Ljava/lang/Object;)I", true))

	return methods
}
