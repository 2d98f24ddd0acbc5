package cmds

import (
	"testing"

	"github.com/dsprint/dsprint/pkg/config"
)

func TestHexFlag(t *testing.T) {
	testCases := []struct {
		in   string
		want uint64
		err  bool
	}{
		{"0x400000", 0x400000, false},
		{"7f0000001000", 0x7f0000001000, false},
		{"0XABC", 0xabc, false},
		{"", 0, true},
		{"0xzz", 0, true},
	}
	for _, tc := range testCases {
		var f hexFlag
		err := f.Set(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("%q: expected error, got %#x", tc.in, f.value)
			}
			if f.set {
				t.Errorf("%q: flag marked as set after an error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if !f.set || f.value != tc.want {
			t.Errorf("%q: got %#x (set %v) want %#x", tc.in, f.value, f.set, tc.want)
		}
	}
}

func TestHexFlagString(t *testing.T) {
	var f hexFlag
	if s := f.String(); s != "" {
		t.Errorf("unset flag: got %q", s)
	}
	f.Set("1000")
	if s := f.String(); s != "0x1000" {
		t.Errorf("got %q want 0x1000", s)
	}
}

func TestDebugInfoDirectories(t *testing.T) {
	conf = &config.Config{DebugInfoDirectories: []string{"/usr/lib/debug"}}
	debugInfoDirs = []string{"/opt/debug"}
	defer func() {
		conf = nil
		debugInfoDirs = nil
	}()
	got := debugInfoDirectories()
	if len(got) != 2 || got[0] != "/usr/lib/debug" || got[1] != "/opt/debug" {
		t.Errorf("got %q", got)
	}
	if len(conf.DebugInfoDirectories) != 1 {
		t.Errorf("configuration modified: %q", conf.DebugInfoDirectories)
	}
}
