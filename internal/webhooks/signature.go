package webhooks

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
)

// Payload is a webhook event body. Marshaling a map produces key-sorted
// JSON, which is the canonical form the signature is computed over.
type Payload map[string]any

// CanonicalBody serializes the payload to its canonical key-sorted form.
// The exact bytes returned here are both signed and delivered, so the
// receiver can verify the signature against the raw request body.
func CanonicalBody(payload Payload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize webhook payload: %w", err)
	}
	return body, nil
}

// Sign computes the hex HMAC-SHA-256 of body keyed by the webhook secret
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the raw body
func VerifySignature(body []byte, secret, signature string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateSecret produces a url-safe random signing key. Exposed to the
// subscriber once, at registration.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateURL accepts only absolute http(s) subscriber URLs
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid webhook URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL must be absolute")
	}
	return nil
}
