package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the request body
const SignatureHeader = "X-Webhook-Signature"

// Sign returns the "sha256=<hex>" signature of body
func Sign(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(digest(secret, body))
}

// VerifySignature checks signature against the HMAC-SHA256 of body. Both the
// "sha256=<hex>" form and a base64 encoded raw digest are accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	sum := digest(secret, body)
	if received, ok := strings.CutPrefix(signature, "sha256="); ok {
		return hmac.Equal([]byte(hex.EncodeToString(sum)), []byte(received))
	}
	return hmac.Equal([]byte(base64.StdEncoding.EncodeToString(sum)), []byte(signature))
}

// EventID is the idempotency key of a webhook delivery: the SHA-256 of the
// exact body bytes.
func EventID(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
