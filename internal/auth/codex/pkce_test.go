package codex

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func TestGeneratePKCECodes(t *testing.T) {
	t.Parallel()

	codes, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes error: %v", err)
	}
	if len(codes.CodeVerifier) != 43 {
		t.Fatalf("verifier length = %d, want 43", len(codes.CodeVerifier))
	}
	for _, r := range codes.CodeVerifier {
		if !strings.ContainsRune(verifierAlphabet, r) {
			t.Fatalf("verifier contains reserved character %q", r)
		}
	}

	sum := sha256.Sum256([]byte(codes.CodeVerifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if codes.CodeChallenge != want {
		t.Fatalf("challenge = %q, want %q", codes.CodeChallenge, want)
	}
	if strings.Contains(codes.CodeChallenge, "=") {
		t.Fatal("challenge must not be padded")
	}
}

func TestGeneratePKCECodesAreDistinct(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		codes, err := GeneratePKCECodes()
		if err != nil {
			t.Fatalf("GeneratePKCECodes error: %v", err)
		}
		if _, dup := seen[codes.CodeVerifier]; dup {
			t.Fatalf("duplicate verifier %q", codes.CodeVerifier)
		}
		seen[codes.CodeVerifier] = struct{}{}
	}
}

func TestGenerateState(t *testing.T) {
	t.Parallel()

	state, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState error: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		t.Fatalf("state is not unpadded base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("state decodes to %d bytes, want 32", len(raw))
	}
	other, _ := GenerateState()
	if other == state {
		t.Fatal("two states should differ")
	}
}
