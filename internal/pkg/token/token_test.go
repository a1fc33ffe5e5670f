package token

import (
	"strings"
	"testing"
)

func TestMintedTokensAreURLSafe(t *testing.T) {
	var m Minter

	// 32 raw bytes encode to 43 base64url chars, 48 bytes to 64.
	tests := []struct {
		name    string
		mint    func() (string, error)
		wantLen int
	}{
		{"check-in", m.CheckIn, 43},
		{"verification", m.Verification, 43},
		{"access", m.Access, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := tt.mint()
			if err != nil {
				t.Fatalf("mint error = %v", err)
			}
			if len(tok) != tt.wantLen {
				t.Errorf("token length = %d, want %d", len(tok), tt.wantLen)
			}
			if strings.ContainsAny(tok, "+/=") {
				t.Errorf("token %q contains characters unsafe for URLs", tok)
			}
		})
	}
}

func TestMintedTokensAreUnique(t *testing.T) {
	var m Minter
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := m.CheckIn()
		if err != nil {
			t.Fatalf("mint error = %v", err)
		}
		if seen[tok] {
			t.Fatal("minted the same token twice")
		}
		seen[tok] = true
	}
}
