package symbols

import (
	"testing"
)

func TestParseMapsLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Region
		err  bool
	}{
		{
			name: "file backed",
			line: "7f8a9b000000-7f8a9b200000 r-xp 00080000 08:01 123456  /usr/lib/libnode.so.108",
			want: Region{
				Start:  0x7f8a9b000000,
				End:    0x7f8a9b200000,
				Perms:  "r-xp",
				Offset: 0x80000,
				Path:   "/usr/lib/libnode.so.108",
			},
		},
		{
			name: "anonymous",
			line: "7f8a9b200000-7f8a9b300000 rw-p 00000000 00:00 0",
			want: Region{
				Start:  0x7f8a9b200000,
				End:    0x7f8a9b300000,
				Perms:  "rw-p",
				Offset: 0,
			},
		},
		{
			name: "path with spaces",
			line: "400000-600000 r-xp 00000000 08:01 42  /opt/my app/node",
			want: Region{
				Start:  0x400000,
				End:    0x600000,
				Perms:  "r-xp",
				Offset: 0,
				Path:   "/opt/my app/node",
			},
		},
		{
			name: "deleted mapping keeps marker",
			line: "400000-600000 r-xp 00000000 08:01 42  /usr/bin/node (deleted)",
			want: Region{
				Start:  0x400000,
				End:    0x600000,
				Perms:  "r-xp",
				Offset: 0,
				Path:   "/usr/bin/node (deleted)",
			},
		},
		{name: "short line", line: "400000-600000 r-xp", err: true},
		{name: "empty", line: "", err: true},
		{name: "bad range", line: "nothex r-xp 00000000 08:01 42", err: true},
		{name: "bad offset", line: "400000-600000 r-xp zz 08:01 42", err: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMapsLine(tc.line)
			if tc.err {
				if err == nil {
					t.Fatalf("parseMapsLine(%q) = %+v, want error", tc.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMapsLine(%q): %v", tc.line, err)
			}
			if got != tc.want {
				t.Errorf("parseMapsLine(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}

func FuzzParseMapsLine(f *testing.F) {
	f.Add("7f8a9b000000-7f8a9b200000 r-xp 00000000 08:01 123456  /usr/bin/node")
	f.Add("400000-600000 rw-p 00001000 00:00 0")
	f.Add("")
	f.Add("- - - - -")
	f.Fuzz(func(t *testing.T, line string) {
		r, err := parseMapsLine(line)
		if err != nil {
			return
		}
		if r.End < r.Start {
			t.Errorf("parsed region ends before it starts: %+v", r)
		}
	})
}
