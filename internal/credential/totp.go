package credential

import (
	"encoding/base32"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpOpts はRFC 6238の標準値（30秒、6桁、SHA1）に前後1ステップの許容を加えたもの。
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// secretToBase32 はhexで保存された共有鍵をpquerna/otpが受け付けるbase32に変換する。
func secretToBase32(secretHex string) (string, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(secretHex))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), true
}

func validateTOTP(secretHex, code string, now time.Time) bool {
	secret, ok := secretToBase32(secretHex)
	if !ok {
		return false
	}
	valid, err := totp.ValidateCustom(strings.TrimSpace(code), secret, now, totpOpts)
	if err != nil {
		return false
	}
	return valid
}
