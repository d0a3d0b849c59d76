package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// Sign returns the hex HMAC-SHA512 of raw keyed with secret.
func Sign(secret string, raw []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signatureHex is the HMAC-SHA512 of raw under
// secret. The digest is computed over raw exactly as received. It returns
// false on an empty secret, body or signature and on malformed hex.
func VerifySignature(secret string, raw []byte, signatureHex string) bool {
	if secret == "" || len(raw) == 0 {
		return false
	}
	signatureHex = strings.TrimSpace(signatureHex)
	if len(signatureHex) != sha512.Size*2 {
		return false
	}
	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(raw)
	return hmac.Equal(mac.Sum(nil), provided)
}
