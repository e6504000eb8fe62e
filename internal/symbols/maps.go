package symbols

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Region is one line of /proc/<pid>/maps.
type Region struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Path   string
}

func parseMaps(pid int) ([]Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("%w: pid %d: %v", ErrNoMaps, pid, err)
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		r, err := parseMapsLine(scanner.Text())
		if err != nil {
			continue
		}
		regions = append(regions, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: pid %d: %v", ErrNoMaps, pid, err)
	}
	return regions, nil
}

// parseMapsLine parses one maps line:
//
//	7f8a9b000000-7f8a9b200000 r-xp 00000000 08:01 123456  /usr/lib/libnode.so
//
// Anonymous regions parse with an empty Path.
func parseMapsLine(line string) (Region, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Region{}, fmt.Errorf("symbols: short maps line: %q", line)
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Region{}, fmt.Errorf("symbols: bad address range: %q", fields[0])
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("symbols: bad start address: %q", addrs[0])
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("symbols: bad end address: %q", addrs[1])
	}
	if end < start {
		return Region{}, fmt.Errorf("symbols: inverted range: %q", fields[0])
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("symbols: bad offset: %q", fields[2])
	}

	path := ""
	if len(fields) > 5 {
		path = strings.Join(fields[5:], " ")
	}
	return Region{
		Start:  start,
		End:    end,
		Perms:  fields[1],
		Offset: offset,
		Path:   path,
	}, nil
}
