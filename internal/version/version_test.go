package version

import (
	"strings"
	"testing"
)

func TestFullIncludesProductAndCommit(t *testing.T) {
	prev := Commit
	Commit = "abc123"
	t.Cleanup(func() { Commit = prev })

	out := Full()
	if !strings.HasPrefix(out, "quicksilver "+Version) || !strings.Contains(out, "abc123") {
		t.Fatalf("unexpected version string %q", out)
	}
}

func TestViaToken(t *testing.T) {
	if got := Via(); got != "1.1 quicksilver/"+Version {
		t.Fatalf("unexpected Via token %q", got)
	}
}
