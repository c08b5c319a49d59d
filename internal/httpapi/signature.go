package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// verifySignature checks the webhook HMAC over the raw request body.
// The signature is hex-encoded SHA-256, with an optional "sha256="
// prefix. Comparison is constant-time; an empty header always fails.
func verifySignature(secret string, header string, body []byte) bool {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.ToLower(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// signatureHeader returns the first populated signature header. Senders
// use X-Webhook-Signature; X-Hub-Signature-256 is accepted for GitHub
// style producers.
func signatureHeader(get func(string) string) string {
	if v := get("X-Webhook-Signature"); v != "" {
		return v
	}
	return get("X-Hub-Signature-256")
}
