package login

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code はワンタイムコードの入力値。
// JSONでは文字列 "123456" と数字の配列 [1,2,3,4,5,6] の両方を受け付ける。
type Code string

// UnmarshalJSON は文字列または1桁ずつの配列をCodeに変換する。
func (c *Code) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Code(strings.TrimSpace(s))
		return nil
	}

	var parts []any
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("code must be a string or an array of digits")
	}

	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case float64:
			if v < 0 || v > 9 || v != float64(int(v)) {
				return fmt.Errorf("code element %v is not a digit", v)
			}
			b.WriteByte(byte('0' + int(v)))
		case string:
			if !isDigits(v) {
				return fmt.Errorf("code element %q is not a digit", v)
			}
			b.WriteString(v)
		default:
			return fmt.Errorf("code element %v is not a digit", v)
		}
	}
	*c = Code(b.String())
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
