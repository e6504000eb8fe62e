package v8

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"v8spy/internal/proc"
)

// fakeResolver maps symbol names to addresses.
type fakeResolver map[string]uint64

func (r fakeResolver) Lookup(name string) (uint64, bool) {
	addr, ok := r[name]
	return addr, ok
}

// fakeMemory serves little-endian values by address. Addresses listed in
// fail return an unreadable error; gone makes every read report a vanished
// target.
type fakeMemory struct {
	vals map[uint64]uint32
	fail map[uint64]bool
	gone bool
}

func (m *fakeMemory) ReadAt(addr uint64, buf []byte) error {
	if m.gone {
		return fmt.Errorf("read at %#x: %w", addr, proc.ErrGone)
	}
	if m.fail[addr] {
		return fmt.Errorf("read at %#x: %w", addr, proc.ErrUnreadable)
	}
	v, ok := m.vals[addr]
	if !ok {
		return fmt.Errorf("read at %#x: %w", addr, proc.ErrUnreadable)
	}
	var full [4]byte
	binary.LittleEndian.PutUint32(full[:], v)
	copy(buf, full[:len(buf)])
	return nil
}

// target builds a resolver/memory pair exposing the given symbol values at
// consecutive fake addresses.
func target(syms map[string]uint32) (fakeResolver, *fakeMemory) {
	res := fakeResolver{}
	mem := &fakeMemory{vals: map[uint64]uint32{}, fail: map[uint64]bool{}}
	addr := uint64(0x1000)
	for name, v := range syms {
		res[name] = addr
		mem.vals[addr] = v
		addr += 16
	}
	return res, mem
}

func TestProbeReadsValues(t *testing.T) {
	res, mem := target(map[string]uint32{
		"v8dbg_SmiTag":                        0,
		"v8dbg_HeapObjectTag":                 1,
		"v8dbg_off_fp_function":               0xFFFFFFE8, // -24 as uint32
		"v8dbg_type_JSFunction__JS_FUNCTION_TYPE": 1057,
		"v8dbg_frametype_EntryFrame":          2,
	})

	var l Layout
	if err := l.Probe(res, mem); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if !l.Tag.SmiTag.Set || l.Tag.SmiTag.Val != 0 {
		t.Errorf("SmiTag = %+v, want {0 true}", l.Tag.SmiTag)
	}
	if !l.Tag.HeapObjectTag.Set || l.Tag.HeapObjectTag.Val != 1 {
		t.Errorf("HeapObjectTag = %+v", l.Tag.HeapObjectTag)
	}
	if !l.FP.Function.Set || l.FP.Function.Val != 0xFFFFFFE8 {
		t.Errorf("FP.Function = %+v", l.FP.Function)
	}
	// Width-2 read must not pull in neighboring bytes.
	if !l.Type.JSFunction.Set || l.Type.JSFunction.Val != 1057 {
		t.Errorf("Type.JSFunction = %+v", l.Type.JSFunction)
	}
	if !l.FrameType.Entry.Set || l.FrameType.Entry.Val != 2 {
		t.Errorf("FrameType.Entry = %+v", l.FrameType.Entry)
	}
	// A symbol nobody published stays unset.
	if l.Tag.SmiShiftSize.Set {
		t.Errorf("SmiShiftSize should be unset, got %+v", l.Tag.SmiShiftSize)
	}
}

func TestProbeLegacyCandidateFallback(t *testing.T) {
	// Only the Tagged-wrapped modern name exists; the canonical name is
	// gone. The fact must still resolve.
	res, mem := target(map[string]uint32{
		"v8dbg_class_JSFunction__shared_function_info__Tagged_SharedFunctionInfo_": 24,
		"v8dbg_class_String__length__int32_t":                                      8,
	})

	var l Layout
	if err := l.Probe(res, mem); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !l.Class.JSFunctionShared.Set || l.Class.JSFunctionShared.Val != 24 {
		t.Errorf("JSFunctionShared = %+v, want {24 true}", l.Class.JSFunctionShared)
	}
	if !l.Class.StringLength.Set || l.Class.StringLength.Val != 8 {
		t.Errorf("StringLength = %+v, want {8 true}", l.Class.StringLength)
	}
}

func TestProbeFrameTypeAbsentGetsMax(t *testing.T) {
	// No frame-type symbols at all: every member must resolve to the
	// maximum for its width instead of staying unknown.
	res, mem := target(map[string]uint32{
		"v8dbg_SmiTag": 0,
	})

	var l Layout
	if err := l.Probe(res, mem); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !l.FrameType.ArgumentsAdaptor.Set || l.FrameType.ArgumentsAdaptor.Val != 0xFF {
		t.Errorf("ArgumentsAdaptor = %+v, want {0xFF true}", l.FrameType.ArgumentsAdaptor)
	}
	if !l.FrameType.Wasm.Set || l.FrameType.Wasm.Val != 0xFF {
		t.Errorf("Wasm = %+v, want {0xFF true}", l.FrameType.Wasm)
	}
}

func TestProbeFrameTypeReadFailureStaysUnset(t *testing.T) {
	// The symbol exists but its page is unreadable. That is not the same
	// as a compiled-out frame kind; the fact stays unknown and probing
	// continues.
	res, mem := target(map[string]uint32{
		"v8dbg_frametype_ExitFrame": 1,
		"v8dbg_SmiTagMask":          1,
	})
	mem.fail[res["v8dbg_frametype_ExitFrame"]] = true

	var l Layout
	if err := l.Probe(res, mem); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if l.FrameType.Exit.Set {
		t.Errorf("Exit = %+v, want unset after failed read", l.FrameType.Exit)
	}
	if !l.Tag.SmiTagMask.Set {
		t.Errorf("SmiTagMask should still resolve after an earlier failed read")
	}
}

func TestProbeAbortsWhenTargetGone(t *testing.T) {
	res, mem := target(map[string]uint32{
		"v8dbg_SmiTag": 0,
	})
	mem.gone = true

	var l Layout
	err := l.Probe(res, mem)
	if !errors.Is(err, proc.ErrGone) {
		t.Fatalf("Probe error = %v, want proc.ErrGone", err)
	}
}

func TestProbeMarkers(t *testing.T) {
	res, mem := target(map[string]uint32{
		"v8dbg_parent_ScopeInfo__HeapObject": 0,
	})

	var l Layout
	if err := l.Probe(res, mem); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !l.Marker.ScopeInfoHasHeapObjectParent {
		t.Errorf("ScopeInfoHasHeapObjectParent should be set by symbol presence")
	}
	if l.Marker.DeoptLiteralArrayIsWeak {
		t.Errorf("DeoptLiteralArrayIsWeak should stay false without its symbol")
	}
}

func TestFactJSON(t *testing.T) {
	set := Fact{Val: 0, Set: true}
	b, err := set.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "0" {
		t.Errorf("set zero fact = %s, want 0", b)
	}

	var unset Fact
	b, err = unset.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "null" {
		t.Errorf("unset fact = %s, want null", b)
	}
}

func TestUnresolvedNamesCanonical(t *testing.T) {
	var l Layout
	l.Class.StringLength.put(8)

	names := map[string]bool{}
	for _, n := range l.Unresolved() {
		names[n] = true
	}
	if names["v8dbg_class_String__length__SMI"] {
		t.Errorf("resolved fact listed as unresolved")
	}
	if !names["v8dbg_class_HeapObject__map__Map"] {
		t.Errorf("unresolved fact missing from report")
	}
	// Legacy candidate names never appear, only canonical ones.
	if names["v8dbg_class_String__length__int32_t"] {
		t.Errorf("legacy candidate name leaked into report")
	}
}
