package delivery

import (
	"strings"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"action":"site.delete"}`)
	sig := Sign(body, "k")

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", sig)
	}
	if err := Verify(body, sig, "k"); err != nil {
		t.Fatalf("Verify prefixed: %v", err)
	}
	if err := Verify(body, strings.TrimPrefix(sig, "sha256="), "k"); err != nil {
		t.Fatalf("Verify plain hex: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{}`)
	sig := Sign(body, "k")

	cases := map[string]struct {
		body      []byte
		signature string
		secret    string
	}{
		"empty secret":    {body, sig, ""},
		"empty signature": {body, "", "k"},
		"bad hex":         {body, "sha256=zz", "k"},
		"tampered body":   {[]byte(`{"x":1}`), sig, "k"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Verify(tc.body, tc.signature, tc.secret); err == nil {
				t.Fatal("expected verification failure")
			}
		})
	}
}
