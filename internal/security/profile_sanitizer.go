// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer は外部プロバイダーから受け取ったプロフィール情報を
// 保存前に無害化する。プロバイダー側のユーザーが自由に編集できる値のため、
// マークアップを含んでいても表示側で解釈されないようにする。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxProfileTextLength はプロフィールのテキスト項目の最大文字数。
const maxProfileTextLength = 1000

// ProfileSanitizer はプロフィール項目のサニタイズを行う。
// bluemondayのStrictPolicyで全タグを除去する。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer は新しいProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Text は名前や自己紹介からタグを除去したプレーンテキストを返す。
// script/style要素は中身ごと除去される。
func (s *ProfileSanitizer) Text(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.TrimSpace(cleaned)

	if r := []rune(cleaned); len(r) > maxProfileTextLength {
		cleaned = string(r[:maxProfileTextLength])
	}
	return cleaned
}

// URL はhttpまたはhttpsの絶対URLのみを返し、それ以外は空文字を返す。
// javascript:等のスキームを持つリンクを保存しないために使う。
func (s *ProfileSanitizer) URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
