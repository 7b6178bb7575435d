package httpheader

import (
	"net/http"
	"testing"
)

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive, X-Session-Hint")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Session-Hint", "abc")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}
	if _, exists := dst["X-Session-Hint"]; exists {
		t.Fatalf("Connection 点名的头不应被复制")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestCloneEndToEndIsIndependent(t *testing.T) {
	src := http.Header{"Content-Type": {"text/css"}, "Transfer-Encoding": {"chunked"}}
	clone := CloneEndToEnd(src)
	clone.Set("Content-Type", "image/png")

	if src.Get("Content-Type") != "text/css" {
		t.Fatalf("source header mutated: %v", src)
	}
	if clone.Get("Transfer-Encoding") != "" {
		t.Fatalf("transfer-encoding should be dropped")
	}
}

func TestIsHopByHopCaseInsensitive(t *testing.T) {
	for _, key := range []string{"te", "TRANSFER-ENCODING", "proxy-connection"} {
		if !IsHopByHop(key) {
			t.Fatalf("%s should be hop-by-hop", key)
		}
	}
	if IsHopByHop("Cache-Control") {
		t.Fatalf("cache-control is end-to-end")
	}
}
