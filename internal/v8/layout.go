// Layout catalogue: the full set of postmortem facts the engine publishes.
package v8

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"v8spy/internal/proc"
)

// Memory reads bytes from the target's address space. Implementations
// return proc.ErrGone when the target itself has exited, as opposed to a
// single unreadable page.
type Memory interface {
	ReadAt(addr uint64, buf []byte) error
}

// Resolver finds a named debug symbol in the target, returning its absolute
// address.
type Resolver interface {
	Lookup(name string) (uint64, bool)
}

// Fact is a single layout value with an explicit presence flag. Zero is a
// legal value for several facts (the HeapObject map offset, SmiTag, the smi
// shift under pointer compression), so absence is tracked separately
// instead of overloading zero.
type Fact struct {
	Val uint32
	Set bool
}

func (f *Fact) put(v uint32) {
	f.Val = v
	f.Set = true
}

// MarshalJSON renders an unset fact as null so artifacts distinguish
// "unknown" from a real zero.
func (f Fact) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Val)
}

// Layout is the resolved catalogue for one target process. It is populated
// by Probe, completed by Backfill, and read-only thereafter. Facts that
// remain unset after backfill mean "unsupported on this engine version".
type Layout struct {
	// Tag and mask constants for decoding tagged values.
	Tag struct {
		HeapObjectTagMask        Fact
		SmiTagMask               Fact
		HeapObjectTag            Fact
		SmiTag                   Fact
		SmiShiftSize             Fact
		FirstNonstringType       Fact
		StringEncodingMask       Fact
		StringRepresentationMask Fact
		SeqStringTag             Fact
		ConsStringTag            Fact
		OneByteStringTag         Fact
		TwoByteStringTag         Fact
		SlicedStringTag          Fact
		ThinStringTag            Fact
		FirstJSFunctionType      Fact
		LastJSFunctionType       Fact
	}

	// FP holds frame-pointer-relative byte offsets.
	FP struct {
		Function       Fact
		Context        Fact
		BytecodeArray  Fact
		BytecodeOffset Fact
	}

	// ScopeInfo slot indices.
	ScopeInfo struct {
		IdxFirstVars      Fact
		IdxNContextLocals Fact
	}

	// DeoptData slot indices into the deoptimization data array.
	DeoptData struct {
		InlinedFunctionCountIdx Fact
		LiteralArrayIdx         Fact
		SharedFunctionInfoIdx   Fact
		InliningPositionsIdx    Fact
	}

	// CodeKind describes the kind bit-field inside Code flags.
	CodeKind struct {
		FieldMask  Fact
		FieldShift Fact
		Baseline   Fact
	}

	// FrameType is the native stack frame type enumeration. Members the
	// engine build compiled out resolve to the maximum value of their
	// width so they never match a real frame marker.
	FrameType struct {
		Entry                                  Fact
		ConstructEntry                         Fact
		Exit                                   Fact
		Optimized                              Fact
		Wasm                                   Fact
		WasmToJs                               Fact
		JsToWasm                               Fact
		WasmInterpreterEntry                   Fact
		CWasmEntry                             Fact
		WasmExit                               Fact
		WasmCompileLazy                        Fact
		Interpreted                            Fact
		Baseline                               Fact
		Stub                                   Fact
		BuiltinContinuation                    Fact
		JavaScriptBuiltinContinuation          Fact
		JavaScriptBuiltinContinuationWithCatch Fact
		Internal                               Fact
		Construct                              Fact
		ArgumentsAdaptor                       Fact
		Builtin                                Fact
		BuiltinExit                            Fact
		Native                                 Fact
	}

	// Type holds instance-type codes per internal class.
	Type struct {
		Code               Fact
		JSFunction         Fact
		Map                Fact
		FixedArray         Fact
		BytecodeArray      Fact
		SharedFunctionInfo Fact
		Script             Fact
		ScopeInfo          Fact
	}

	// Class holds per-class field byte offsets.
	Class struct {
		HeapObjectMap                     Fact
		MapInstanceType                   Fact
		FixedArrayBaseLength              Fact
		FixedArrayData                    Fact
		StringLength                      Fact
		SeqOneByteStringChars             Fact
		SeqTwoByteStringChars             Fact
		ConsStringFirst                   Fact
		ConsStringSecond                  Fact
		SlicedStringParent                Fact
		SlicedStringOffset                Fact
		ThinStringActual                  Fact
		JSFunctionShared                  Fact
		JSFunctionContext                 Fact
		JSFunctionCode                    Fact
		CodeInstructionStart              Fact
		CodeInstructionSize               Fact
		CodeFlags                         Fact
		CodeDeoptData                     Fact
		SharedFunctionInfoNameOrScopeInfo Fact
		SharedFunctionInfoFunctionData    Fact
		SharedFunctionInfoScript          Fact
		SharedFunctionInfoFormalParams    Fact
		BaselineDataData                  Fact
		BytecodeArraySourcePositionTable  Fact
		BytecodeArrayData                 Fact
		ScriptName                        Fact
		ScriptLineOffset                  Fact
		ScriptSource                      Fact
		ScriptLineEnds                    Fact
	}

	// Marker records class-hierarchy shapes that are published as
	// presence-only symbols; the symbol's value is irrelevant.
	Marker struct {
		ScopeInfoHasHeapObjectParent bool
		DeoptLiteralArrayIsWeak      bool
	}
}

const frameTypePrefix = "v8dbg_frametype_"

// probeSpec binds one catalogue fact to its candidate symbol names and the
// storage width read from the target. Candidates are ordered canonical
// name first; several fields moved to differently-mangled names across
// releases (typically a plain class-field name retired in favor of a
// Tagged-wrapped variant).
type probeSpec struct {
	dst   *Fact
	width int // bytes read, little-endian: 1, 2, or 4
	names []string
}

type markerSpec struct {
	dst  *bool
	name string
}

func (l *Layout) markerSpecs() []markerSpec {
	return []markerSpec{
		{&l.Marker.ScopeInfoHasHeapObjectParent, "v8dbg_parent_ScopeInfo__HeapObject"},
		{&l.Marker.DeoptLiteralArrayIsWeak, "v8dbg_parent_DeoptimizationLiteralArray__WeakFixedArray"},
	}
}

func (l *Layout) probeSpecs() []probeSpec {
	one := func(dst *Fact, width int, name string) probeSpec {
		return probeSpec{dst, width, []string{name}}
	}
	return []probeSpec{
		// Tag and mask constants.
		one(&l.Tag.HeapObjectTagMask, 4, "v8dbg_HeapObjectTagMask"),
		one(&l.Tag.SmiTagMask, 4, "v8dbg_SmiTagMask"),
		one(&l.Tag.HeapObjectTag, 4, "v8dbg_HeapObjectTag"),
		one(&l.Tag.SmiTag, 4, "v8dbg_SmiTag"),
		one(&l.Tag.SmiShiftSize, 4, "v8dbg_SmiShiftSize"),
		one(&l.Tag.FirstNonstringType, 2, "v8dbg_FirstNonstringType"),
		one(&l.Tag.StringEncodingMask, 4, "v8dbg_StringEncodingMask"),
		one(&l.Tag.StringRepresentationMask, 4, "v8dbg_StringRepresentationMask"),
		one(&l.Tag.SeqStringTag, 4, "v8dbg_SeqStringTag"),
		one(&l.Tag.ConsStringTag, 4, "v8dbg_ConsStringTag"),
		one(&l.Tag.OneByteStringTag, 4, "v8dbg_OneByteStringTag"),
		one(&l.Tag.TwoByteStringTag, 4, "v8dbg_TwoByteStringTag"),
		one(&l.Tag.SlicedStringTag, 4, "v8dbg_SlicedStringTag"),
		one(&l.Tag.ThinStringTag, 4, "v8dbg_ThinStringTag"),
		one(&l.Tag.FirstJSFunctionType, 2, "v8dbg_FirstJSFunctionType"),
		one(&l.Tag.LastJSFunctionType, 2, "v8dbg_LastJSFunctionType"),

		// Frame-pointer byte offsets.
		one(&l.FP.Function, 4, "v8dbg_off_fp_function"),
		one(&l.FP.Context, 4, "v8dbg_off_fp_context"),
		one(&l.FP.BytecodeArray, 4, "v8dbg_off_fp_bytecode_array"),
		one(&l.FP.BytecodeOffset, 4, "v8dbg_off_fp_bytecode_offset"),

		// ScopeInfo slot indices.
		one(&l.ScopeInfo.IdxFirstVars, 4, "v8dbg_scopeinfo_idx_first_vars"),
		one(&l.ScopeInfo.IdxNContextLocals, 4, "v8dbg_scopeinfo_idx_ncontextlocals"),

		// Deoptimization data slot indices.
		one(&l.DeoptData.InlinedFunctionCountIdx, 4, "v8dbg_DeoptimizationDataInlinedFunctionCountIndex"),
		one(&l.DeoptData.LiteralArrayIdx, 4, "v8dbg_DeoptimizationDataLiteralArrayIndex"),
		one(&l.DeoptData.SharedFunctionInfoIdx, 4, "v8dbg_DeoptimizationDataSharedFunctionInfoIndex"),
		one(&l.DeoptData.InliningPositionsIdx, 4, "v8dbg_DeoptimizationDataInliningPositionsIndex"),

		// Code kind bit-field.
		one(&l.CodeKind.FieldMask, 4, "v8dbg_CodeKindFieldMask"),
		one(&l.CodeKind.FieldShift, 1, "v8dbg_CodeKindFieldShift"),
		one(&l.CodeKind.Baseline, 1, "v8dbg_CodeKindBaseline"),

		// Stack frame type enumeration.
		one(&l.FrameType.Entry, 1, frameTypePrefix+"EntryFrame"),
		one(&l.FrameType.ConstructEntry, 1, frameTypePrefix+"ConstructEntryFrame"),
		one(&l.FrameType.Exit, 1, frameTypePrefix+"ExitFrame"),
		one(&l.FrameType.Optimized, 1, frameTypePrefix+"OptimizedFrame"),
		one(&l.FrameType.Wasm, 1, frameTypePrefix+"WasmFrame"),
		one(&l.FrameType.WasmToJs, 1, frameTypePrefix+"WasmToJsFrame"),
		one(&l.FrameType.JsToWasm, 1, frameTypePrefix+"JsToWasmFrame"),
		one(&l.FrameType.WasmInterpreterEntry, 1, frameTypePrefix+"WasmInterpreterEntryFrame"),
		one(&l.FrameType.CWasmEntry, 1, frameTypePrefix+"CWasmEntryFrame"),
		one(&l.FrameType.WasmExit, 1, frameTypePrefix+"WasmExitFrame"),
		one(&l.FrameType.WasmCompileLazy, 1, frameTypePrefix+"WasmCompileLazyFrame"),
		one(&l.FrameType.Interpreted, 1, frameTypePrefix+"InterpretedFrame"),
		one(&l.FrameType.Baseline, 1, frameTypePrefix+"BaselineFrame"),
		one(&l.FrameType.Stub, 1, frameTypePrefix+"StubFrame"),
		one(&l.FrameType.BuiltinContinuation, 1, frameTypePrefix+"BuiltinContinuationFrame"),
		one(&l.FrameType.JavaScriptBuiltinContinuation, 1, frameTypePrefix+"JavaScriptBuiltinContinuationFrame"),
		one(&l.FrameType.JavaScriptBuiltinContinuationWithCatch, 1, frameTypePrefix+"JavaScriptBuiltinContinuationWithCatchFrame"),
		one(&l.FrameType.Internal, 1, frameTypePrefix+"InternalFrame"),
		one(&l.FrameType.Construct, 1, frameTypePrefix+"ConstructFrame"),
		one(&l.FrameType.ArgumentsAdaptor, 1, frameTypePrefix+"ArgumentsAdaptorFrame"),
		one(&l.FrameType.Builtin, 1, frameTypePrefix+"BuiltinFrame"),
		one(&l.FrameType.BuiltinExit, 1, frameTypePrefix+"BuiltinExitFrame"),
		one(&l.FrameType.Native, 1, frameTypePrefix+"NativeFrame"),

		// Instance type codes.
		one(&l.Type.Code, 2, "v8dbg_type_Code__CODE_TYPE"),
		one(&l.Type.JSFunction, 2, "v8dbg_type_JSFunction__JS_FUNCTION_TYPE"),
		one(&l.Type.Map, 2, "v8dbg_type_Map__MAP_TYPE"),
		one(&l.Type.FixedArray, 2, "v8dbg_type_FixedArray__FIXED_ARRAY_TYPE"),
		one(&l.Type.BytecodeArray, 2, "v8dbg_type_BytecodeArray__BYTECODE_ARRAY_TYPE"),
		one(&l.Type.SharedFunctionInfo, 2, "v8dbg_type_SharedFunctionInfo__SHARED_FUNCTION_INFO_TYPE"),
		one(&l.Type.Script, 2, "v8dbg_type_Script__SCRIPT_TYPE"),
		one(&l.Type.ScopeInfo, 2, "v8dbg_type_ScopeInfo__SCOPE_INFO_TYPE"),

		// Per-class field offsets.
		one(&l.Class.HeapObjectMap, 4, "v8dbg_class_HeapObject__map__Map"),
		one(&l.Class.MapInstanceType, 4, "v8dbg_class_Map__instance_type__uint16_t"),
		one(&l.Class.FixedArrayBaseLength, 4, "v8dbg_class_FixedArrayBase__length__SMI"),
		one(&l.Class.FixedArrayData, 4, "v8dbg_class_FixedArray__data__uintptr_t"),
		{&l.Class.StringLength, 4, []string{
			"v8dbg_class_String__length__SMI",
			"v8dbg_class_String__length__int32_t",
		}},
		one(&l.Class.SeqOneByteStringChars, 4, "v8dbg_class_SeqOneByteString__chars__char"),
		one(&l.Class.SeqTwoByteStringChars, 4, "v8dbg_class_SeqTwoByteString__chars__char"),
		{&l.Class.ConsStringFirst, 4, []string{
			"v8dbg_class_ConsString__first__String",
			"v8dbg_class_ConsString__first__Tagged_String_",
		}},
		{&l.Class.ConsStringSecond, 4, []string{
			"v8dbg_class_ConsString__second__String",
			"v8dbg_class_ConsString__second__Tagged_String_",
		}},
		{&l.Class.SlicedStringParent, 4, []string{
			"v8dbg_class_SlicedString__parent__String",
			"v8dbg_class_SlicedString__parent__Tagged_String_",
		}},
		one(&l.Class.SlicedStringOffset, 4, "v8dbg_class_SlicedString__offset__SMI"),
		{&l.Class.ThinStringActual, 4, []string{
			"v8dbg_class_ThinString__actual__String",
			"v8dbg_class_ThinString__actual__Tagged_String_",
		}},
		{&l.Class.JSFunctionShared, 4, []string{
			"v8dbg_class_JSFunction__shared__SharedFunctionInfo",
			"v8dbg_class_JSFunction__shared_function_info__Tagged_SharedFunctionInfo_",
		}},
		{&l.Class.JSFunctionContext, 4, []string{
			"v8dbg_class_JSFunction__context__Context",
			"v8dbg_class_JSFunction__context__Tagged_Context_",
		}},
		{&l.Class.JSFunctionCode, 4, []string{
			"v8dbg_class_JSFunction__code__Code",
			"v8dbg_class_JSFunction__code__Tagged_Code_",
		}},
		{&l.Class.CodeInstructionStart, 4, []string{
			"v8dbg_class_Code__instruction_start__uintptr_t",
			"v8dbg_class_Code__instruction_start__Address",
		}},
		one(&l.Class.CodeInstructionSize, 4, "v8dbg_class_Code__instruction_size__int"),
		one(&l.Class.CodeFlags, 4, "v8dbg_class_Code__flags__uint32_t"),
		{&l.Class.CodeDeoptData, 4, []string{
			"v8dbg_class_Code__deoptimization_data__FixedArray",
			"v8dbg_class_Code__deoptimization_data_or_interpreter_data__Tagged_HeapObject_",
		}},
		{&l.Class.SharedFunctionInfoNameOrScopeInfo, 4, []string{
			"v8dbg_class_SharedFunctionInfo__name_or_scope_info__Object",
			"v8dbg_class_SharedFunctionInfo__name_or_scope_info__Tagged_Object_",
		}},
		{&l.Class.SharedFunctionInfoFunctionData, 4, []string{
			"v8dbg_class_SharedFunctionInfo__function_data__Object",
			"v8dbg_class_SharedFunctionInfo__trusted_function_data__Tagged_Object_",
		}},
		{&l.Class.SharedFunctionInfoScript, 4, []string{
			"v8dbg_class_SharedFunctionInfo__script__Object",
			"v8dbg_class_SharedFunctionInfo__script_or_debug_info__Object",
		}},
		one(&l.Class.SharedFunctionInfoFormalParams, 4,
			"v8dbg_class_SharedFunctionInfo__internal_formal_parameter_count__uint16_t"),
		one(&l.Class.BaselineDataData, 4, "v8dbg_class_BaselineData__data__Object"),
		{&l.Class.BytecodeArraySourcePositionTable, 4, []string{
			"v8dbg_class_BytecodeArray__source_position_table__ByteArray",
			"v8dbg_class_BytecodeArray__source_position_table__Tagged_HeapObject_",
		}},
		one(&l.Class.BytecodeArrayData, 4, "v8dbg_class_BytecodeArray__data__uintptr_t"),
		{&l.Class.ScriptName, 4, []string{
			"v8dbg_class_Script__name__Object",
			"v8dbg_class_Script__name__Tagged_Object_",
		}},
		one(&l.Class.ScriptLineOffset, 4, "v8dbg_class_Script__line_offset__SMI"),
		{&l.Class.ScriptSource, 4, []string{
			"v8dbg_class_Script__source__Object",
			"v8dbg_class_Script__source__Tagged_Object_",
		}},
		one(&l.Class.ScriptLineEnds, 4, "v8dbg_class_Script__line_ends__Object"),
	}
}

// Probe populates the catalogue from the target's postmortem symbols.
// Individual misses are logged and leave their fact unset; only a vanished
// target aborts.
func (l *Layout) Probe(res Resolver, mem Memory) error {
	for _, ms := range l.markerSpecs() {
		_, ok := res.Lookup(ms.name)
		*ms.dst = ok
	}
	for _, ps := range l.probeSpecs() {
		if err := probeFact(res, mem, ps); err != nil {
			return err
		}
	}
	return nil
}

func probeFact(res Resolver, mem Memory, ps probeSpec) error {
	found := false
	for _, name := range ps.names {
		addr, ok := res.Lookup(name)
		if !ok {
			continue
		}
		found = true
		var buf [4]byte
		if err := mem.ReadAt(addr, buf[:ps.width]); err != nil {
			if errors.Is(err, proc.ErrGone) {
				return fmt.Errorf("v8: probing %s: %w", name, err)
			}
			// The page may be transiently unmapped while the target
			// runs; an explicit unknown beats a stale partial value.
			log.Debugf("v8: %s at %#x unreadable: %v", name, addr, err)
			continue
		}
		ps.dst.put(decodeFact(buf[:ps.width]))
		return nil
	}
	if !found && strings.HasPrefix(ps.names[0], frameTypePrefix) {
		// Frame-type constants are compiled out for configurations that
		// disable the frame kind; absence means "never matches", not
		// unknown.
		ps.dst.put(maxForWidth(ps.width))
		return nil
	}
	if !found {
		log.Debugf("v8: no symbol for %s", ps.names[0])
	}
	return nil
}

func decodeFact(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

func maxForWidth(width int) uint32 {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

// Unresolved lists the canonical symbol names of facts that neither probing
// nor backfill could determine.
func (l *Layout) Unresolved() []string {
	var out []string
	for _, ps := range l.probeSpecs() {
		if !ps.dst.Set {
			out = append(out, ps.names[0])
		}
	}
	return out
}
