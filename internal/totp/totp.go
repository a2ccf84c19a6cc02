package totp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Standard 30-second step with one step of tolerance either side.
const (
	codeDigits = otp.DigitsSix
	period     = 30
	skew       = 1
)

type Setup struct {
	Secret         string   `json:"secret"`
	QRCodeURL      string   `json:"qr_code_url"`
	ManualEntryKey string   `json:"manual_entry_key"`
	BackupCodes    []string `json:"backup_codes"`
}

type Engine struct {
	issuer string
}

func NewEngine(issuer string) *Engine {
	if issuer == "" {
		issuer = "authgate"
	}
	return &Engine{issuer: issuer}
}

// GenerateSetup mints a fresh secret and everything the client needs to
// enroll an authenticator. Nothing is persisted here; an abandoned setup
// leaves no trace.
func (e *Engine) GenerateSetup(email string) (*Setup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: email,
		Period:      period,
		Digits:      codeDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}
	codes, err := GenerateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}
	return &Setup{
		Secret:         key.Secret(),
		QRCodeURL:      qr,
		ManualEntryKey: FormatManualEntryKey(key.Secret()),
		BackupCodes:    codes,
	}, nil
}

// Verify validates a submitted code against a secret. Malformed input is
// simply a failed verification, never an error.
func (e *Engine) Verify(code, secret string) bool {
	code = strings.TrimSpace(code)
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}

// GenerateCode produces the current code for a secret. Test helper and the
// basis for enrollment verification in clients without an authenticator.
func (e *Engine) GenerateCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// FormatManualEntryKey groups the secret into 4-character blocks for users
// typing it by hand.
func FormatManualEntryKey(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(256, 256)
	if err != nil {
		return "", fmt.Errorf("render qr image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
