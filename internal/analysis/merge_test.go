package analysis

import (
	"testing"
)

func TestMergeIdempotent(t *testing.T) {
	items := []Item{
		NewItem("I"),
		NewConstantItem("I", int32(42)),
		NewConstantItem("Ljava/lang/String;", "x"),
		NullItem(),
		InitialArgument("J", 1),
	}
	for _, it := range items {
		if m := MergeItems(it, it); !SameValue(m, it) {
			t.Errorf("merge(x, x) != x for %v, got %v", it, m)
		}
	}
}

func TestMergeConstantsSurviveOnlyAgreement(t *testing.T) {
	a := NewConstantItem("I", int32(1))
	b := NewConstantItem("I", int32(2))
	m := MergeItems(a, b)
	if m.Constant() != nil {
		t.Errorf("disagreeing constants must clear, got %v", m.Constant())
	}
	if m.Signature() != "I" {
		t.Errorf("agreeing signatures must survive, got %q", m.Signature())
	}

	same := MergeItems(NewConstantItem("I", int32(5)), NewConstantItem("I", int32(5)))
	if c, ok := same.Constant().(int32); !ok || c != 5 {
		t.Errorf("agreeing constants must survive, got %v", same.Constant())
	}
}

func TestMergeCouldBeZeroUnions(t *testing.T) {
	zero := NewConstantItem("I", int32(0))
	one := NewConstantItem("I", int32(1))
	m := MergeItems(zero, one)
	if !m.CouldBeZero() {
		t.Error("could-be-zero must OR across the confluence")
	}
}

func TestMergeNullAdoptsSignature(t *testing.T) {
	n := NullItem()
	s := NewItem("Ljava/lang/String;")
	m := MergeItems(n, s)
	if m.Signature() != "Ljava/lang/String;" {
		t.Errorf("null side must adopt the other signature, got %q", m.Signature())
	}
	if m.IsNull() {
		t.Error("merged value is only maybe-null; the null flag intersects away")
	}
}

func TestMergeTypeOnlyYields(t *testing.T) {
	typeOnly := NewItem("I")
	typeOnly.SetSpecialKind(TypeOnly)
	c := NewConstantItem("I", int32(9))
	if m := MergeItems(typeOnly, c); !SameValue(m, c) {
		t.Errorf("TYPE_ONLY must yield to the informative side, got %v", m)
	}
	if m := MergeItems(c, typeOnly); !SameValue(m, c) {
		t.Errorf("TYPE_ONLY must yield from either side, got %v", m)
	}
}

func TestMergeKindPromotions(t *testing.T) {
	tainted := NewItem("Ljava/lang/String;")
	tainted.SetSpecialKind(ServletRequestTainted)
	tainted.injection = &InjectionPoint{ParameterName: "q", PC: 7}
	clean := NewItem("Ljava/lang/String;")

	m := MergeItems(tainted, clean)
	if m.SpecialKind() != ServletRequestTainted {
		t.Error("taint must win the merge")
	}
	if m.Injection() == nil || m.Injection().ParameterName != "q" {
		t.Error("the injection point must survive the merge")
	}

	nasty := NewItem("D")
	nasty.SetSpecialKind(NastyFloatMath)
	float := NewItem("D")
	float.SetSpecialKind(FloatMath)
	if m := MergeItems(nasty, float); m.SpecialKind() != NastyFloatMath {
		t.Error("NASTY_FLOAT_MATH dominates FLOAT_MATH")
	}
	if m := MergeItems(float, NewItem("D")); m.SpecialKind() != FloatMath {
		t.Error("FLOAT_MATH dominates no kind")
	}

	ab := NewItem("I")
	ab.SetSpecialKind(RandomInt)
	cd := NewItem("I")
	cd.SetSpecialKind(HashcodeInt)
	if m := MergeItems(ab, cd); m.SpecialKind() != NotSpecial {
		t.Error("mismatched kinds collapse")
	}
}

func TestMergeUserRegisteredKindPassesThrough(t *testing.T) {
	k := DefineSpecialKind("MERGE_TEST_KIND")
	a := NewItem("I")
	a.SetSpecialKind(k)
	b := NewItem("I")
	b.SetSpecialKind(k)
	if m := MergeItems(a, b); m.SpecialKind() != k {
		t.Error("agreeing user-registered kinds must survive the merge")
	}
}

func TestMergeListsReportsChange(t *testing.T) {
	ctx := quietContext()
	into := []Item{NewConstantItem("I", int32(1)), NewItem("J")}
	from := []Item{NewConstantItem("I", int32(1)), NewItem("J")}
	if _, changed := mergeLists(into, from, ctx); changed {
		t.Error("identical lists must not report change")
	}
	from[0] = NewConstantItem("I", int32(2))
	if _, changed := mergeLists(into, from, ctx); !changed {
		t.Error("a constant disagreement must report change")
	}
}
