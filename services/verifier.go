package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/yashrajoria/payment-engine/common/errors"
)

// SignatureVerifier authenticates inbound bank webhooks: a hex HMAC-SHA256
// of the raw body, a fresh timestamp and, when present, an unused nonce.
type SignatureVerifier struct {
	secret []byte
	window time.Duration
	nonces NonceStore
	clock  Clock
}

func NewSignatureVerifier(secret string, window time.Duration, nonces NonceStore, clock Clock) *SignatureVerifier {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &SignatureVerifier{secret: []byte(secret), window: window, nonces: nonces, clock: clock}
}

// Sign returns the signature a sender must attach to payload.
func (v *SignatureVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature and timestamp, then consumes nonce if one was sent.
// It touches no payment state.
func (v *SignatureVerifier) Verify(ctx context.Context, payload []byte, signature, timestamp, nonce string) error {
	if len(v.secret) == 0 {
		return apperrors.Unauthorized(ReasonInvalidSignature, "webhook secret not configured")
	}

	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil || len(got) == 0 {
		return apperrors.Unauthorized(ReasonInvalidSignature, "invalid signature")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperrors.Unauthorized(ReasonInvalidSignature, "invalid signature")
	}

	ts, ok := parseWebhookTimestamp(timestamp)
	if !ok {
		return apperrors.Unauthorized(ReasonStaleTimestamp, "missing or malformed timestamp")
	}
	skew := v.clock.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window {
		return apperrors.Unauthorized(ReasonStaleTimestamp, "timestamp outside the accepted window")
	}

	if nonce = strings.TrimSpace(nonce); nonce != "" && v.nonces != nil {
		fresh, err := v.nonces.Remember(ctx, nonce, 2*v.window)
		if err != nil {
			return apperrors.Dependency(ReasonReplayedNonce, "nonce store unavailable", err)
		}
		if !fresh {
			return apperrors.Unauthorized(ReasonReplayedNonce, "nonce already used")
		}
	}
	return nil
}

// parseWebhookTimestamp accepts unix seconds, unix milliseconds or RFC3339.
func parseWebhookTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
