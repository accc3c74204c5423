package auth

import "testing"

func TestComputeS256Challenge_RFC7636Vector(t *testing.T) {
	// RFC 7636 Appendix B
	verifier := "dBjftJeZ4CVP-mJ92K9ckhrt1SBrm7pCBBp8h7ByXmw"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := ComputeS256Challenge(verifier); got != want {
		t.Errorf("ComputeS256Challenge() = %q, want %q", got, want)
	}
}

func TestGenerateCodeVerifier_Length(t *testing.T) {
	v, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 32バイトのbase64url（パディングなし）は43文字で、RFC 7636の43〜128文字の範囲に収まる
	if len(v) != 43 {
		t.Errorf("len = %d, want 43", len(v))
	}
}

func TestGenerateState_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := GenerateState()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[s] {
			t.Fatalf("duplicate state: %s", s)
		}
		seen[s] = true
	}
}
