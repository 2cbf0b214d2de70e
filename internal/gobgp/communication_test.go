package gobgp_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dantte-lp/gocsit/internal/gobgp"
)

func TestShutdownCommunication(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		step   string
		reason string
		want   string
	}{
		{name: "step only", step: "restart", want: "csit:restart"},
		{name: "with reason", step: "flap", reason: "cycle 2", want: "csit:flap: cycle 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := gobgp.FormatShutdownCommunication(tt.step, tt.reason)
			if got != tt.want {
				t.Errorf("Format = %q, want %q", got, tt.want)
			}
			step, reason, ok := gobgp.ParseShutdownCommunication(got)
			if !ok || step != tt.step || reason != tt.reason {
				t.Errorf("Parse(%q) = %q, %q, %v", got, step, reason, ok)
			}
		})
	}
}

func TestShutdownCommunicationTruncation(t *testing.T) {
	t.Parallel()

	got := gobgp.FormatShutdownCommunication("long", strings.Repeat("é", 200))
	if len(got) > gobgp.MaxCommunicationLen {
		t.Errorf("len = %d, want <= %d", len(got), gobgp.MaxCommunicationLen)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated communication is not valid UTF-8")
	}
}

func TestParseForeignCommunication(t *testing.T) {
	t.Parallel()

	if _, _, ok := gobgp.ParseShutdownCommunication("maintenance window"); ok {
		t.Error("Parse accepted a foreign communication")
	}
}

func TestParseFamily(t *testing.T) {
	t.Parallel()

	for _, f := range gobgp.Families() {
		got, err := gobgp.ParseFamily(string(f))
		if err != nil || got != f {
			t.Errorf("ParseFamily(%q) = %q, %v", f, got, err)
		}
	}
	if _, err := gobgp.ParseFamily("ipv9-unicast"); err == nil {
		t.Error("ParseFamily accepted an unknown family")
	}
}
