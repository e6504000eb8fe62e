package elfx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-an-elf")
	if err := os.WriteFile(path, []byte("just text\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrNotELF) {
		t.Fatalf("Open(non-ELF) = %v, want ErrNotELF", err)
	}
}

func TestOpenSelf(t *testing.T) {
	// The test binary itself is a 64-bit ELF on every platform this
	// package targets.
	f, err := Open("/proc/self/exe")
	if err != nil {
		t.Fatalf("Open(self): %v", err)
	}
	defer f.Close()

	syms := f.Symbols()
	if len(syms) == 0 {
		t.Skip("test binary has no symbol tables")
	}
	if _, err := f.Symbol(syms[0].Name); err != nil {
		t.Errorf("Symbol(%q): %v", syms[0].Name, err)
	}
	if _, err := f.Symbol("definitely.not.a.symbol"); !errors.Is(err, ErrNoSymbol) {
		t.Errorf("Symbol(missing) = %v, want ErrNoSymbol", err)
	}
}
