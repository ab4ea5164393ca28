package apikey

import "testing"

func TestVerifyAcceptsMatchingSecret(t *testing.T) {
	clear, salt, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if clear == "" || salt == "" {
		t.Fatalf("generate returned empty clear or salt")
	}

	hashed := Hash(clear, salt)
	if !Verify(clear, salt, hashed) {
		t.Fatalf("verify rejected a matching secret")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	clear, salt, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	hashed := Hash(clear, salt)

	if Verify("not-the-secret", salt, hashed) {
		t.Fatalf("verify accepted a mismatched secret")
	}
}

func TestGenerateProducesDistinctSecrets(t *testing.T) {
	clearA, _, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	clearB, _, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if clearA == clearB {
		t.Fatalf("two calls to generate produced the same secret")
	}
}
