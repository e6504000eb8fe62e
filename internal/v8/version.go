package v8

import (
	"encoding/binary"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"v8spy/internal/proc"
)

// The engine exports one plain global int per version component.
var versionSymbols = [4]string{
	"_ZN2v88internal7Version6major_E",
	"_ZN2v88internal7Version6minor_E",
	"_ZN2v88internal7Version6build_E",
	"_ZN2v88internal7Version6patch_E",
}

// Version is the engine's four-component version as read from the target.
// Components that could not be read stay zero; a partially known version is
// still usable, the backfill rules degrade to their oldest branch wherever
// a zero component is decisive.
type Version struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Build uint32 `json:"build"`
	Patch uint32 `json:"patch"`
}

// Ordinal packs (major, minor, build) into one comparable value. Patch is
// tracked but deliberately excluded: no layout change is known to have
// shipped on a patch release, and including it would silently move the
// thresholds several derivation rules key on.
func (v Version) Ordinal() uint32 {
	return v.Major<<24 | v.Minor<<16 | v.Build
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Patch)
}

// ver packs a version threshold the same way Ordinal does.
func ver(major, minor, build uint32) uint32 {
	return major<<24 | minor<<16 | build
}

// ReadVersion reads the four version symbols from the target. A missing
// symbol or an unreadable page leaves that component zero; only a vanished
// target is an error.
func ReadVersion(res Resolver, mem Memory) (Version, error) {
	var comps [4]uint32
	for i, name := range versionSymbols {
		addr, ok := res.Lookup(name)
		if !ok {
			log.Debugf("v8: version symbol %s not found", name)
			continue
		}
		var buf [4]byte
		if err := mem.ReadAt(addr, buf[:]); err != nil {
			if errors.Is(err, proc.ErrGone) {
				return Version{}, fmt.Errorf("v8: reading %s: %w", name, err)
			}
			log.Debugf("v8: version symbol %s unreadable: %v", name, err)
			continue
		}
		comps[i] = binary.LittleEndian.Uint32(buf[:])
	}
	return Version{
		Major: comps[0],
		Minor: comps[1],
		Build: comps[2],
		Patch: comps[3],
	}, nil
}
