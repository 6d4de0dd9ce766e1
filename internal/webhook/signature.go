package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks a Razorpay webhook signature: hex-encoded
// HMAC-SHA256 of the raw request body under the shared webhook secret.
// It must run on the exact bytes received, before any JSON parsing, since
// re-serialized JSON is not guaranteed to reproduce the signed bytes.
// An unconfigured secret fails closed.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
