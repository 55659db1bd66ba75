package auth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"

	"github.com/pquerna/otp/totp"
)

// otpIssuer is the issuer shown in authenticator apps
const otpIssuer = "dtrader"

// GenerateOTPSecret generates a random TOTP secret (base32, 160 bit)
func GenerateOTPSecret() (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret), nil
}

// GetOTPQRCodeURL builds the otpauth:// provisioning URI for authenticator
// apps (rendered as a QR code by the dashboard).
func GetOTPQRCodeURL(secret, email string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(otpIssuer), url.PathEscape(email), secret, url.QueryEscape(otpIssuer))
}

// VerifyOTP checks a 6 digit TOTP code against the secret
// (30s period, one step of clock skew tolerated by the library)
func VerifyOTP(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	return totp.Validate(code, secret)
}
