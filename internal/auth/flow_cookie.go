package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidFlowCookie はフローCookieの署名、期限、プロバイダーのいずれかが不正であることを表す。
var ErrInvalidFlowCookie = errors.New("invalid oauth flow cookie")

// flowClaims はフローCookieに格納するクレーム。
type flowClaims struct {
	Provider string `json:"prv"`
	Value    string `json:"val"`
	jwt.RegisteredClaims
}

// FlowCookieCodec はstateとcode_verifierをHS256署名付きで短命Cookieに格納する。
// 署名により、改ざんや別プロバイダーのフローへの流用を検出する。
type FlowCookieCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewFlowCookieCodec は新しいFlowCookieCodecを生成する。
func NewFlowCookieCodec(secret string, ttl time.Duration) *FlowCookieCodec {
	return &FlowCookieCodec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL はCookieの有効期間を返す。
func (c *FlowCookieCodec) TTL() time.Duration {
	return c.ttl
}

// Encode はvalueをproviderに紐付けて署名する。
func (c *FlowCookieCodec) Encode(provider, value string) (string, error) {
	now := c.now()
	claims := flowClaims{
		Provider: provider,
		Value:    value,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign flow cookie: %w", err)
	}
	return token, nil
}

// Decode は署名と期限を検証し、providerに紐付いた値を返す。
func (c *FlowCookieCodec) Decode(provider, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidFlowCookie
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	var claims flowClaims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFlowCookie, err)
	}
	if claims.Provider != provider || claims.Value == "" {
		return "", ErrInvalidFlowCookie
	}
	return claims.Value, nil
}
