package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeHeader(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"id":"evt_1"}`)
	v := StripeVerifier{Secret: "whsec_abc"}

	t.Run("valid signature", func(t *testing.T) {
		h := stripeHeader("whsec_abc", now.Unix(), body)
		assert.NoError(t, v.Verify(h, body, now))
	})

	t.Run("wrong secret", func(t *testing.T) {
		h := stripeHeader("whsec_wrong", now.Unix(), body)
		assert.ErrorIs(t, v.Verify(h, body, now), ErrBadSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		h := stripeHeader("whsec_abc", now.Unix(), body)
		assert.ErrorIs(t, v.Verify(h, []byte(`{"id":"evt_2"}`), now), ErrBadSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-10 * time.Minute)
		h := stripeHeader("whsec_abc", old.Unix(), body)
		assert.ErrorIs(t, v.Verify(h, body, now), ErrStaleEvent)
	})

	t.Run("custom tolerance", func(t *testing.T) {
		wide := StripeVerifier{Secret: "whsec_abc", Tolerance: time.Hour}
		old := now.Add(-10 * time.Minute)
		h := stripeHeader("whsec_abc", old.Unix(), body)
		assert.NoError(t, wide.Verify(h, body, now))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify("", body, now), ErrBadSignature)
	})

	t.Run("garbage header", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify("t=abc,v1=zzz", body, now), ErrBadSignature)
	})
}

func TestStandardVerifier(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	v := StandardVerifier{Secret: "whsec_abc"}

	mac := hmac.New(sha256.New, []byte("whsec_abc"))
	mac.Write(body)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.NoError(t, v.Verify(good, body, time.Now()))
	assert.ErrorIs(t, v.Verify(good, []byte("other"), time.Now()), ErrBadSignature)
	assert.ErrorIs(t, v.Verify("sha256=deadbeef", body, time.Now()), ErrBadSignature)
	assert.ErrorIs(t, v.Verify("", body, time.Now()), ErrBadSignature)
	assert.ErrorIs(t, v.Verify("md5=abc", body, time.Now()), ErrBadSignature)
}

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier("stripe", "s", 0)
	require.NoError(t, err)
	assert.Equal(t, "Stripe-Signature", v.Header())

	v, err = NewVerifier("standard", "s", 0)
	require.NoError(t, err)
	assert.Equal(t, "X-Webhook-Signature", v.Header())

	// empty scheme falls back to standard
	_, err = NewVerifier("", "s", 0)
	assert.NoError(t, err)

	_, err = NewVerifier("pgp", "s", 0)
	assert.Error(t, err)
}
