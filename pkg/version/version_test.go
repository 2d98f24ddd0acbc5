package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	s := v.String()
	if !strings.HasPrefix(s, "Version: 1.2.3-rc1\nBuild: abc") {
		t.Errorf("got %q", s)
	}
	v.Build = "$Id$"
	if s := v.String(); strings.Contains(s, "$Id") {
		t.Errorf("ident keyword not replaced: %q", s)
	}
}

func TestBuildInfo(t *testing.T) {
	s := BuildInfo()
	if !strings.HasPrefix(s, runtime.Version()+"\n") {
		t.Errorf("go version missing: %q", s)
	}
	if !strings.Contains(s, " mod ") && !strings.Contains(s, "not built in module mode") {
		t.Errorf("module information missing: %q", s)
	}
}
