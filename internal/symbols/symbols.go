// Package symbols resolves named debug symbols in a live process.
//
// The engine publishes its layout as "postmortem" data symbols; resolving
// one means finding the image that carries the engine, computing that
// image's load bias, and looking the name up in its symbol tables.
package symbols

import (
	"debug/elf"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"

	"v8spy/internal/elfx"
)

var (
	ErrNoRuntime = errors.New("symbols: no V8 runtime image found")
	ErrNoMaps    = errors.New("symbols: cannot read process maps")
)

// RuntimeKind identifies how the engine is linked into the target.
type RuntimeKind int

const (
	RuntimeUnknown RuntimeKind = iota
	// RuntimeNodeExecutable is an engine statically linked into the main
	// binary (the usual node build).
	RuntimeNodeExecutable
	// RuntimeNodeShared is an engine living in libnode.so or libv8.so
	// (embedders, distro builds).
	RuntimeNodeShared
)

func (k RuntimeKind) String() string {
	switch k {
	case RuntimeNodeExecutable:
		return "node executable"
	case RuntimeNodeShared:
		return "shared library"
	default:
		return "unknown"
	}
}

// identifying symbols: every engine build exports the version globals, and
// even heavily stripped ones keep the interpreter trampoline builtin.
var identifying = []string{
	"_ZN2v88internal7Version6major_E",
	"InterpreterEntryTrampoline",
}

// Image is one mapped executable file in the target.
type Image struct {
	Path string
	// Bias is added to symbol values to obtain target addresses. Zero for
	// fixed-address (ET_EXEC) binaries.
	Bias uint64
}

// table holds the parsed symbol addresses of one on-disk image.
type table struct {
	addrs map[string]uint64
}

const tableCacheSize = 16

func hashPath(p string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p))
	return h.Sum32()
}

// Context resolves engine symbols for one target process. It is built once
// per resolution and is safe to share only within that resolution.
type Context struct {
	Pid   int
	Kind  RuntimeKind
	image Image

	tables *freelru.LRU[string, *table]
}

// BuildContext enumerates the target's mapped images and selects the one
// carrying the V8 runtime. It fails with ErrNoRuntime when the target does
// not look like a V8-hosting process.
func BuildContext(pid int) (*Context, error) {
	regions, err := parseMaps(pid)
	if err != nil {
		return nil, err
	}

	tables, err := freelru.New[string, *table](tableCacheSize, hashPath)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	c := &Context{Pid: pid, Kind: RuntimeUnknown, tables: tables}

	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))

	for _, cand := range candidateImages(regions, exe) {
		t, err := c.load(cand.Path)
		if err != nil {
			log.Debugf("symbols: skipping %s: %v", cand.Path, err)
			continue
		}
		if !hasIdentifying(t) {
			continue
		}
		c.image = cand
		if cand.Path == exe {
			c.Kind = RuntimeNodeExecutable
		} else {
			c.Kind = RuntimeNodeShared
		}
		log.Debugf("symbols: V8 runtime in %s (%s, bias %#x)",
			cand.Path, c.Kind, cand.Bias)
		return c, nil
	}
	return nil, fmt.Errorf("%w: pid %d", ErrNoRuntime, pid)
}

// Lookup resolves a symbol name to an absolute address in the target.
func (c *Context) Lookup(name string) (uint64, bool) {
	t, err := c.load(c.image.Path)
	if err != nil {
		return 0, false
	}
	if addr, ok := t.addrs[name]; ok {
		return addr + c.image.Bias, true
	}
	// Mangled names occasionally differ between toolchains; fall back to
	// matching on the demangled form.
	if strings.HasPrefix(name, "_Z") {
		if addr, err := c.lookupDemangled(name); err == nil {
			return addr + c.image.Bias, true
		}
	}
	return 0, false
}

func (c *Context) lookupDemangled(name string) (uint64, error) {
	ef, err := elfx.Open(c.image.Path)
	if err != nil {
		return 0, err
	}
	defer ef.Close()
	return ef.SymbolByDemangled(name)
}

// load parses the symbol tables of one image, caching the result.
func (c *Context) load(path string) (*table, error) {
	if t, ok := c.tables.Get(path); ok {
		return t, nil
	}
	ef, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	t := &table{addrs: make(map[string]uint64)}
	for _, s := range ef.Symbols() {
		if s.Name == "" {
			continue
		}
		t.addrs[s.Name] = s.Value
	}
	c.tables.Add(path, t)
	return t, nil
}

func hasIdentifying(t *table) bool {
	for _, name := range identifying {
		if _, ok := t.addrs[name]; ok {
			return true
		}
	}
	return false
}

// candidateImages orders the mapped files worth probing: the main
// executable first, then anything plausibly carrying the engine.
func candidateImages(regions []Region, exe string) []Image {
	seen := make(map[string]bool)
	var out []Image

	add := func(r Region) {
		if r.Path == "" || seen[r.Path] {
			return
		}
		seen[r.Path] = true
		out = append(out, Image{Path: r.Path, Bias: imageBias(r)})
	}

	for _, r := range regions {
		if !strings.Contains(r.Perms, "x") || r.Path == "" {
			continue
		}
		if r.Path == exe {
			add(r)
		}
	}
	for _, r := range regions {
		if !strings.Contains(r.Perms, "x") {
			continue
		}
		base := filepath.Base(r.Path)
		if strings.Contains(base, "node") ||
			strings.HasPrefix(base, "libv8") ||
			strings.HasPrefix(base, "libnode") {
			add(r)
		}
	}
	return out
}

// imageBias computes the load bias of a mapped image from its first
// executable region. Fixed-address binaries get bias zero.
func imageBias(r Region) uint64 {
	ef, err := elfx.Open(r.Path)
	if err != nil {
		return 0
	}
	defer ef.Close()
	if ef.Type() == elf.ET_EXEC {
		return 0
	}
	return r.Start - r.Offset
}
