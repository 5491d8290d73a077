package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	payload := []byte(`{"event_type":"CONFIG_UPDATED","key":"db.url"}`)

	signature, err := Sign("topsecret", payload)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signature, "sha256="))

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, signature)
}

func TestSignEmptySecret(t *testing.T) {
	_, err := Sign("", []byte("payload"))
	assert.Error(t, err)
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"a":1}`)

	first, err := Sign("secret", payload)
	require.NoError(t, err)
	second, err := Sign("secret", payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := Sign("different-secret", payload)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"event_id":"abc"}`)
	signature, err := Sign("secret", payload)
	require.NoError(t, err)

	assert.True(t, Verify("secret", payload, signature))
	assert.False(t, Verify("wrong", payload, signature))
	assert.False(t, Verify("secret", []byte("tampered"), signature))
	assert.False(t, Verify("", payload, signature))
}

func TestCanonicalPayloadSortsKeys(t *testing.T) {
	a, err := CanonicalPayload(map[string]interface{}{
		"zebra": 1, "alpha": 2, "mid": 3,
	})
	require.NoError(t, err)
	b, err := CanonicalPayload(map[string]interface{}{
		"mid": 3, "zebra": 1, "alpha": 2,
	})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(a))
}
