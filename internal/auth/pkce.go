package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// randomToken は32バイトの乱数をURLセーフなbase64で返す。
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateState はCSRF対策のstateトークンを生成する。
func GenerateState() (string, error) {
	return randomToken()
}

// GenerateCodeVerifier はPKCEのcode_verifier（43文字）を生成する。
func GenerateCodeVerifier() (string, error) {
	return randomToken()
}

// ComputeS256Challenge はcode_verifierからS256のcode_challengeを計算する。
func ComputeS256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
