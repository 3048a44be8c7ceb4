package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderWebhookTimestamp = "X-Settle-Timestamp"
	HeaderWebhookSignature = "X-Settle-Signature"
)

// WebhookSigner authenticates outgoing webhook bodies with
// HMAC-SHA256(secret, timestamp + "." + body), hex encoded.
type WebhookSigner struct {
	secret []byte
}

// NewWebhookSigner creates a signer for secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret)}
}

// Headers returns the signature headers for body sent at ts.
func (w *WebhookSigner) Headers(body []byte, ts time.Time) map[string]string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return map[string]string{
		HeaderWebhookTimestamp: unix,
		HeaderWebhookSignature: w.sign(unix, body),
	}
}

// Verify checks a received signature and rejects timestamps further than
// tolerance from now.
func (w *WebhookSigner) Verify(body []byte, tsHeader, sigHeader string, now time.Time, tolerance time.Duration) error {
	unix, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: webhook timestamp %q: %w", tsHeader, err)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > tolerance || d < -tolerance {
		return fmt.Errorf("crypto: webhook timestamp outside %s", tolerance)
	}
	if !hmac.Equal([]byte(w.sign(tsHeader, body)), []byte(sigHeader)) {
		return fmt.Errorf("crypto: webhook signature mismatch")
	}
	return nil
}

func (w *WebhookSigner) sign(unix string, body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String redacts the secret.
func (w *WebhookSigner) String() string {
	return "WebhookSigner{secret=****}"
}
