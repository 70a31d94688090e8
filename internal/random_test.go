package internal

import (
	"strings"
	"testing"
)

func TestNewOpaqueTokenUnique(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		tok, err := NewOpaqueToken()
		if err != nil {
			t.Fatalf("NewOpaqueToken: %v", err)
		}
		if err := ParseOpaqueToken(tok); err != nil {
			t.Fatalf("generated token rejected: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestParseOpaqueTokenRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"!!!not-base64!!!",
		strings.Repeat("A", 200),
	}
	for _, tc := range cases {
		if err := ParseOpaqueToken(tc); err == nil {
			t.Fatalf("expected %q to be rejected", tc)
		}
	}
}

func TestHashValueStable(t *testing.T) {
	a := HashValue("token")
	b := HashValue("token")
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == HashValue("token2") {
		t.Fatal("distinct inputs produced same hash")
	}
}

func TestNormalizeTenantID(t *testing.T) {
	if got := NormalizeTenantID("  "); got != DefaultTenantID {
		t.Fatalf("expected default tenant, got %q", got)
	}
	if got := NormalizeTenantID(" t1 "); got != "t1" {
		t.Fatalf("expected t1, got %q", got)
	}
}

func FuzzParseOpaqueToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if tok, err := NewOpaqueToken(); err == nil {
		f.Add(tok)
	}

	f.Fuzz(func(t *testing.T, input string) {
		if err := ParseOpaqueToken(input); err != nil {
			return
		}
		if len(input) != 43 {
			t.Fatalf("accepted token of unexpected length %d", len(input))
		}
	})
}
