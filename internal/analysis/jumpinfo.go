package analysis

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"ocstack/internal/jvm"
)

// JumpInfo is the persistable result of the fixed-point iteration: the
// locals (and, where non-empty, stack) snapshots at every branch target,
// plus the set of target offsets. Feeding it back as a seed makes the
// non-iterative mode a single-pass analysis.
type JumpInfo struct {
	Entries      map[int][]Item
	StackEntries map[int][]Item
	Locations    map[int]bool
}

// itemRecord is the wire form of an Item. The detector slot is not
// persisted; it is meaningful only within one visit.
type itemRecord struct {
	Signature string `json:"sig"`
	ConstKind string `json:"ck,omitempty"` // i, l, f, d, s
	ConstInt  int64  `json:"ci,omitempty"`
	ConstFlt  float64 `json:"cf,omitempty"`
	ConstStr  string `json:"cs,omitempty"`

	Kind     int   `json:"k,omitempty"`
	Flags    uint8 `json:"fl,omitempty"`
	Register int   `json:"r"`
	FieldReg int   `json:"fr"`
	PC       int   `json:"pc"`

	SourceKind string `json:"sk,omitempty"` // field or method
	SrcClass   string `json:"sc,omitempty"`
	SrcName    string `json:"sn,omitempty"`
	SrcSig     string `json:"ss,omitempty"`
	SrcStatic  bool   `json:"sst,omitempty"`
	SrcPublic  bool   `json:"sp,omitempty"`

	InjName string `json:"in,omitempty"`
	InjPC   int    `json:"ip,omitempty"`
	HasInj  bool   `json:"hi,omitempty"`
}

type jumpInfoRecord struct {
	Entries      map[int][]itemRecord `json:"entries"`
	StackEntries map[int][]itemRecord `json:"stack"`
	Locations    []int                `json:"locations"`
}

func toRecord(it Item) itemRecord {
	r := itemRecord{
		Signature: it.signature,
		Kind:      int(it.kind),
		Flags:     it.flags,
		Register:  it.registerNumber,
		FieldReg:  it.fieldLoadedFromRegister,
		PC:        it.pc,
	}
	switch c := it.constant.(type) {
	case int32:
		r.ConstKind, r.ConstInt = "i", int64(c)
	case int64:
		r.ConstKind, r.ConstInt = "l", c
	case float32:
		r.ConstKind, r.ConstFlt = "f", float64(c)
	case float64:
		r.ConstKind, r.ConstFlt = "d", c
	case string:
		r.ConstKind, r.ConstStr = "s", c
	}
	switch src := it.source.(type) {
	case *jvm.FieldRef:
		r.SourceKind = "field"
		r.SrcClass, r.SrcName, r.SrcSig = src.Class, src.Name, src.Signature
		r.SrcStatic, r.SrcPublic = src.Static, src.Public
	case *jvm.MethodRef:
		r.SourceKind = "method"
		r.SrcClass, r.SrcName, r.SrcSig = src.Class, src.Name, src.Signature
	}
	if it.injection != nil {
		r.HasInj = true
		r.InjName = it.injection.ParameterName
		r.InjPC = it.injection.PC
	}
	return r
}

func fromRecord(r itemRecord) Item {
	it := blank()
	it.signature = r.Signature
	it.kind = SpecialKind(r.Kind)
	it.flags = r.Flags
	it.registerNumber = r.Register
	it.fieldLoadedFromRegister = r.FieldReg
	it.pc = r.PC
	switch r.ConstKind {
	case "i":
		it.constant = int32(r.ConstInt)
	case "l":
		it.constant = r.ConstInt
	case "f":
		it.constant = float32(r.ConstFlt)
	case "d":
		it.constant = r.ConstFlt
	case "s":
		it.constant = r.ConstStr
	}
	switch r.SourceKind {
	case "field":
		it.source = &jvm.FieldRef{
			Class: r.SrcClass, Name: r.SrcName, Signature: r.SrcSig,
			Static: r.SrcStatic, Public: r.SrcPublic,
		}
	case "method":
		it.source = &jvm.MethodRef{Class: r.SrcClass, Name: r.SrcName, Signature: r.SrcSig}
	}
	if r.HasInj {
		it.injection = &InjectionPoint{ParameterName: r.InjName, PC: r.InjPC}
	}
	return it
}

// EncodeJumpInfo serialises a JumpInfo for the analysis cache.
func EncodeJumpInfo(info *JumpInfo) ([]byte, error) {
	rec := jumpInfoRecord{
		Entries:      make(map[int][]itemRecord, len(info.Entries)),
		StackEntries: make(map[int][]itemRecord, len(info.StackEntries)),
	}
	for pc, items := range info.Entries {
		rs := make([]itemRecord, len(items))
		for i, it := range items {
			rs[i] = toRecord(it)
		}
		rec.Entries[pc] = rs
	}
	for pc, items := range info.StackEntries {
		rs := make([]itemRecord, len(items))
		for i, it := range items {
			rs[i] = toRecord(it)
		}
		rec.StackEntries[pc] = rs
	}
	for pc := range info.Locations {
		rec.Locations = append(rec.Locations, pc)
	}
	sort.Ints(rec.Locations)
	out, err := json.Marshal(rec)
	return out, errors.Wrap(err, "encoding jump info")
}

// DecodeJumpInfo deserialises a cache payload.
func DecodeJumpInfo(blob []byte) (*JumpInfo, error) {
	var rec jumpInfoRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, errors.Wrap(err, "decoding jump info")
	}
	info := &JumpInfo{
		Entries:      make(map[int][]Item, len(rec.Entries)),
		StackEntries: make(map[int][]Item, len(rec.StackEntries)),
		Locations:    make(map[int]bool, len(rec.Locations)),
	}
	for pc, rs := range rec.Entries {
		items := make([]Item, len(rs))
		for i, r := range rs {
			items[i] = fromRecord(r)
		}
		info.Entries[pc] = items
	}
	for pc, rs := range rec.StackEntries {
		items := make([]Item, len(rs))
		for i, r := range rs {
			items[i] = fromRecord(r)
		}
		info.StackEntries[pc] = items
	}
	for _, pc := range rec.Locations {
		info.Locations[pc] = true
	}
	return info, nil
}
