// Package elfx provides ELF loading helpers for locating engine debug symbols.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/ianlancetaylor/demangle"
)

var (
	ErrNotELF   = errors.New("elfx: not an ELF file")
	ErrNot64Bit = errors.New("elfx: not 64-bit ELF")
	ErrNoSymbol = errors.New("elfx: symbol not found")
)

// File wraps a debug/elf.File with symbol lookup helpers.
type File struct {
	ELF *elf.File
}

// Open opens an ELF file and validates it is 64-bit. Both executables and
// shared objects are accepted; the engine may live in either.
func Open(path string) (*File, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotELF, path, err)
	}
	if ef.Class != elf.ELFCLASS64 {
		ef.Close()
		return nil, ErrNot64Bit
	}
	return &File{ELF: ef}, nil
}

// Close releases resources.
func (f *File) Close() error { return f.ELF.Close() }

// Type returns the ELF object type (ET_EXEC binaries need no load bias).
func (f *File) Type() elf.Type { return f.ELF.Type }

// Symbols returns the merged static and dynamic symbol tables. Missing
// tables are not an error; a stripped table simply contributes nothing.
func (f *File) Symbols() []elf.Symbol {
	syms, _ := f.ELF.Symbols()
	dyn, _ := f.ELF.DynamicSymbols()
	return append(syms, dyn...)
}

// Symbol looks up a symbol by exact name and returns its virtual address.
func (f *File) Symbol(name string) (uint64, error) {
	for _, s := range f.Symbols() {
		if s.Name == name {
			return s.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// SymbolByDemangled looks up a mangled symbol by comparing demangled names.
// Some builds export the engine's version globals under a different
// mangling than the canonical one; matching on the demangled form finds
// them regardless.
func (f *File) SymbolByDemangled(mangled string) (uint64, error) {
	want, err := demangle.ToString(mangled)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNoSymbol, mangled)
	}
	for _, s := range f.Symbols() {
		if len(s.Name) < 2 || s.Name[0] != '_' || s.Name[1] != 'Z' {
			continue
		}
		got, err := demangle.ToString(s.Name)
		if err != nil {
			continue
		}
		if got == want {
			return s.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSymbol, mangled)
}
