package appversion_test

import (
	"runtime"
	"strings"
	"testing"

	appversion "github.com/dantte-lp/gocsit/internal/version"
)

func TestFull(t *testing.T) {
	t.Parallel()

	got := appversion.Full("csitctl")
	for _, want := range []string{"csitctl dev", "commit:  unknown", "go:      " + runtime.Version()} {
		if !strings.Contains(got, want) {
			t.Errorf("Full() = %q, missing %q", got, want)
		}
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	info := appversion.Get("csitctl")
	if info.Binary != "csitctl" || info.Version != appversion.Version || info.GoVersion != runtime.Version() {
		t.Errorf("Get() = %+v", info)
	}
}
