package v8

import (
	log "github.com/sirupsen/logrus"
)

// Backfilled offsets assume 64-bit targets.
const ptrSize = 8

// branch is one version gate of a backfill rule. Branches are listed most
// recent first; the first branch whose minimum ordinal the target meets
// decides the fact, even when it declines to produce a value.
type branch struct {
	min uint32
	fn  func(*Layout) (uint32, bool)
}

func fixed(v uint32) func(*Layout) (uint32, bool) {
	return func(*Layout) (uint32, bool) { return v, true }
}

// rel derives a fact from another already-settled fact plus a signed byte
// delta. It declines when the source fact is still unset, leaving the
// dependent unknown rather than guessing from an arbitrary base.
func rel(src func(*Layout) *Fact, delta int32) func(*Layout) (uint32, bool) {
	return func(l *Layout) (uint32, bool) {
		f := src(l)
		if !f.Set {
			return 0, false
		}
		return uint32(int32(f.Val) + delta), true
	}
}

type rule struct {
	dst      func(*Layout) *Fact
	name     string
	branches []branch
}

// backfillRules is ordered so every rule's inputs are settled by earlier
// rules or by probing. Rules never touch facts the symbols already
// provided.
var backfillRules = []rule{
	// Tagging scheme. Stable since long before any supported release.
	{dst: func(l *Layout) *Fact { return &l.Tag.SmiTag }, name: "SmiTag",
		branches: []branch{{0, fixed(0)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.SmiTagMask }, name: "SmiTagMask",
		branches: []branch{{0, fixed(1)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.HeapObjectTag }, name: "HeapObjectTag",
		branches: []branch{{0, fixed(1)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.HeapObjectTagMask }, name: "HeapObjectTagMask",
		branches: []branch{{0, fixed(3)}}},

	// Pointer compression made small integers 31-bit in 8.0.
	{dst: func(l *Layout) *Fact { return &l.Tag.SmiShiftSize }, name: "SmiShiftSize",
		branches: []branch{
			{ver(8, 0, 0), fixed(0)},
			{0, fixed(32)},
		}},

	// String shape tags.
	{dst: func(l *Layout) *Fact { return &l.Tag.StringRepresentationMask }, name: "StringRepresentationMask",
		branches: []branch{{0, fixed(7)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.StringEncodingMask }, name: "StringEncodingMask",
		branches: []branch{{0, fixed(8)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.OneByteStringTag }, name: "OneByteStringTag",
		branches: []branch{{0, fixed(8)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.TwoByteStringTag }, name: "TwoByteStringTag",
		branches: []branch{{0, fixed(0)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.SeqStringTag }, name: "SeqStringTag",
		branches: []branch{{0, fixed(0)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.ConsStringTag }, name: "ConsStringTag",
		branches: []branch{{0, fixed(1)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.SlicedStringTag }, name: "SlicedStringTag",
		branches: []branch{{0, fixed(3)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.ThinStringTag }, name: "ThinStringTag",
		branches: []branch{{0, fixed(5)}}},
	{dst: func(l *Layout) *Fact { return &l.Tag.FirstNonstringType }, name: "FirstNonstringType",
		branches: []branch{{0, fixed(0x80)}}},

	// Frame-pointer offsets hang off the probed function slot.
	{dst: func(l *Layout) *Fact { return &l.FP.Context }, name: "off_fp_context",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.FP.Function }, -16)},
		}},
	// The bytecode array slot moved one word closer to the function slot
	// when the ArgumentsAdaptor frame was removed.
	{dst: func(l *Layout) *Fact { return &l.FP.BytecodeArray }, name: "off_fp_bytecode_array",
		branches: []branch{
			{ver(9, 5, 2), rel(func(l *Layout) *Fact { return &l.FP.Function }, -16)},
			{0, rel(func(l *Layout) *Fact { return &l.FP.Function }, -8)},
		}},
	{dst: func(l *Layout) *Fact { return &l.FP.BytecodeOffset }, name: "off_fp_bytecode_offset",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.FP.BytecodeArray }, -8)},
		}},

	// ScopeInfo header slots.
	{dst: func(l *Layout) *Fact { return &l.ScopeInfo.IdxFirstVars }, name: "scopeinfo_idx_first_vars",
		branches: []branch{
			{ver(9, 0, 0), fixed(6)},
			{ver(6, 2, 0), fixed(5)},
			{0, fixed(4)},
		}},
	{dst: func(l *Layout) *Fact { return &l.ScopeInfo.IdxNContextLocals }, name: "scopeinfo_idx_ncontextlocals",
		branches: []branch{
			{ver(9, 0, 0), fixed(2)},
			{0, fixed(1)},
		}},

	// Deoptimization data slots shifted when the header gained a slot.
	{dst: func(l *Layout) *Fact { return &l.DeoptData.InlinedFunctionCountIdx }, name: "DeoptimizationDataInlinedFunctionCountIndex",
		branches: []branch{
			{ver(9, 0, 0), fixed(1)},
			{0, fixed(0)},
		}},
	{dst: func(l *Layout) *Fact { return &l.DeoptData.LiteralArrayIdx }, name: "DeoptimizationDataLiteralArrayIndex",
		branches: []branch{{0, fixed(2)}}},
	{dst: func(l *Layout) *Fact { return &l.DeoptData.SharedFunctionInfoIdx }, name: "DeoptimizationDataSharedFunctionInfoIndex",
		branches: []branch{
			{ver(9, 0, 0), fixed(6)},
			{0, fixed(5)},
		}},
	{dst: func(l *Layout) *Fact { return &l.DeoptData.InliningPositionsIdx }, name: "DeoptimizationDataInliningPositionsIndex",
		branches: []branch{
			{ver(9, 0, 0), fixed(7)},
			{0, fixed(6)},
		}},

	// Code kind field.
	{dst: func(l *Layout) *Fact { return &l.CodeKind.FieldShift }, name: "CodeKindFieldShift",
		branches: []branch{{0, fixed(0)}}},
	// The baseline kind only exists where the Sparkplug compiler does; on
	// older engines it gets a value no flags word can produce.
	{dst: func(l *Layout) *Fact { return &l.CodeKind.Baseline }, name: "CodeKindBaseline",
		branches: []branch{
			{ver(9, 0, 0), func(l *Layout) (uint32, bool) {
				if l.CodeKind.FieldMask.Set && l.CodeKind.FieldMask.Val != 0 {
					return 3, true
				}
				return 0xFF, true
			}},
			{0, fixed(0xFF)},
		}},

	// JSFunction instance-type range, anchored on the probed type code.
	{dst: func(l *Layout) *Fact { return &l.Tag.FirstJSFunctionType }, name: "FirstJSFunctionType",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Type.JSFunction }, 0)},
		}},
	// Class-constructor subtypes were split out of JS_FUNCTION_TYPE in
	// 9.1 and grew again in 9.6.
	{dst: func(l *Layout) *Fact { return &l.Tag.LastJSFunctionType }, name: "LastJSFunctionType",
		branches: []branch{
			{ver(9, 6, 138), rel(func(l *Layout) *Fact { return &l.Type.JSFunction }, 14)},
			{ver(9, 1, 161), rel(func(l *Layout) *Fact { return &l.Type.JSFunction }, 13)},
			{0, rel(func(l *Layout) *Fact { return &l.Type.JSFunction }, 0)},
		}},

	// Object header and array layout.
	{dst: func(l *Layout) *Fact { return &l.Class.HeapObjectMap }, name: "class_HeapObject__map",
		branches: []branch{{0, fixed(0)}}},
	{dst: func(l *Layout) *Fact { return &l.Class.MapInstanceType }, name: "class_Map__instance_type",
		branches: []branch{{0, fixed(12)}}},
	{dst: func(l *Layout) *Fact { return &l.Class.FixedArrayBaseLength }, name: "class_FixedArrayBase__length",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.HeapObjectMap }, ptrSize)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.FixedArrayData }, name: "class_FixedArray__data",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.FixedArrayBaseLength }, ptrSize)},
		}},

	// String layout. 8.0 shrank the length field to 32 bits, pulling the
	// character data in by a word.
	{dst: func(l *Layout) *Fact { return &l.Class.StringLength }, name: "class_String__length",
		branches: []branch{
			{ver(8, 0, 0), fixed(8)},
			{0, fixed(16)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.SeqOneByteStringChars }, name: "class_SeqOneByteString__chars",
		branches: []branch{
			{ver(8, 0, 0), rel(func(l *Layout) *Fact { return &l.Class.StringLength }, 8)},
			{0, rel(func(l *Layout) *Fact { return &l.Class.StringLength }, 16)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.SeqTwoByteStringChars }, name: "class_SeqTwoByteString__chars",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.SeqOneByteStringChars }, 0)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.ConsStringSecond }, name: "class_ConsString__second",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.ConsStringFirst }, ptrSize)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.SlicedStringOffset }, name: "class_SlicedString__offset",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.SlicedStringParent }, ptrSize)},
		}},

	// JSFunction layout.
	{dst: func(l *Layout) *Fact { return &l.Class.JSFunctionContext }, name: "class_JSFunction__context",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.JSFunctionShared }, ptrSize)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.JSFunctionCode }, name: "class_JSFunction__code",
		branches: []branch{
			{ver(9, 0, 0), rel(func(l *Layout) *Fact { return &l.Class.JSFunctionContext }, 16)},
			{0, rel(func(l *Layout) *Fact { return &l.Class.JSFunctionContext }, 8)},
		}},

	// Code object layout. 11.0 moved instruction_start into the header.
	{dst: func(l *Layout) *Fact { return &l.Class.CodeInstructionStart }, name: "class_Code__instruction_start",
		branches: []branch{
			{ver(11, 0, 0), fixed(24)},
			{0, fixed(32)},
		}},

	// SharedFunctionInfo layout.
	{dst: func(l *Layout) *Fact { return &l.Class.SharedFunctionInfoFunctionData }, name: "class_SharedFunctionInfo__function_data",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.SharedFunctionInfoNameOrScopeInfo }, -ptrSize)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.SharedFunctionInfoScript }, name: "class_SharedFunctionInfo__script",
		branches: []branch{
			{ver(9, 0, 0), rel(func(l *Layout) *Fact { return &l.Class.SharedFunctionInfoNameOrScopeInfo }, 8)},
			{0, rel(func(l *Layout) *Fact { return &l.Class.SharedFunctionInfoNameOrScopeInfo }, 16)},
		}},

	// Script layout.
	{dst: func(l *Layout) *Fact { return &l.Class.ScriptName }, name: "class_Script__name",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.ScriptSource }, ptrSize)},
		}},
	{dst: func(l *Layout) *Fact { return &l.Class.ScriptLineOffset }, name: "class_Script__line_offset",
		branches: []branch{
			{0, rel(func(l *Layout) *Fact { return &l.Class.ScriptName }, ptrSize)},
		}},
}

// Backfill fills catalogue gaps with version-derived values. Probed facts
// are never overwritten. A rule whose matching branch declines, or a rule
// that exists for no engine this old, leaves its fact unset.
func (l *Layout) Backfill(v Version) {
	ord := v.Ordinal()
	for _, r := range backfillRules {
		dst := r.dst(l)
		if dst.Set {
			continue
		}
		for _, b := range r.branches {
			if ord < b.min {
				continue
			}
			if val, ok := b.fn(l); ok {
				dst.put(val)
				log.Debugf("v8: backfilled %s = %#x for %s", r.name, val, v)
			}
			break
		}
	}
}
