package streamkey

import (
	"strings"
	"testing"
)

func TestNewShape(t *testing.T) {
	k := New()
	if !strings.HasPrefix(k, Prefix) {
		t.Fatalf("missing prefix: %q", k)
	}
	if len(k) != len(Prefix)+32 {
		t.Fatalf("unexpected length %d for %q", len(k), k)
	}
	if !Valid(k) {
		t.Fatalf("generated key not valid: %q", k)
	}
}

func TestNewUnique(t *testing.T) {
	const n = 100000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		k := New()
		if _, dup := seen[k]; dup {
			t.Fatalf("duplicate key after %d generations: %s", i, k)
		}
		seen[k] = struct{}{}
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{in: "", want: false},
		{in: "stream-", want: false},
		{in: "stream-0123456789abcdef0123456789abcdef", want: true},
		{in: "stream-0123456789ABCDEF0123456789ABCDEF", want: false},
		{in: "stream-0123456789abcdef0123456789abcdeg", want: false},
		{in: "key-0123456789abcdef0123456789abcdef", want: false},
	}
	for _, tc := range cases {
		if got := Valid(tc.in); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
