package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalPayload serializes an event payload to its canonical JSON form.
// encoding/json sorts map keys, so signer and any receiver-side verifier
// produce identical bytes from identical logical payloads
func CanonicalPayload(payload map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// Sign generates an HMAC SHA256 signature for the payload
// Returns the signature in the format: sha256=<hex_encoded_hmac>
func Sign(secret string, payload []byte) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return "", fmt.Errorf("failed to write payload to HMAC: %w", err)
	}

	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil))), nil
}

// Verify reports whether signature matches the payload under the shared
// secret. Receivers use this to authenticate deliveries without a handshake
func Verify(secret string, payload []byte, signature string) bool {
	expected, err := Sign(secret, payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
