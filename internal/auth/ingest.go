package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// IngestSecretSource resolves the shared signing key for a data logger.
// An unknown logger yields an empty key and no error.
type IngestSecretSource interface {
	IngestSecret(ctx context.Context, deviceUID string) ([]byte, error)
}

// IngestAuthMiddleware validates data logger ingest signatures. Loggers sign
// timestamp + "\n" + body with their per-device key.
type IngestAuthMiddleware struct {
	Secrets IngestSecretSource
	MaxSkew time.Duration
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(secrets IngestSecretSource, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Secrets: secrets, MaxSkew: maxSkew}
}

// Wrap enforces ingest signature validation.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Secrets == nil {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		deviceUID := strings.TrimSpace(r.Header.Get("X-Device-UID"))
		timestamp := strings.TrimSpace(r.Header.Get("X-Ingest-Timestamp"))
		signature := strings.TrimSpace(r.Header.Get("X-Ingest-Signature"))
		if deviceUID == "" || timestamp == "" || signature == "" {
			http.Error(w, "missing ingest signature", http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid ingest timestamp", http.StatusUnauthorized)
			return
		}
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if m.MaxSkew > 0 && skew > m.MaxSkew {
			http.Error(w, "ingest signature expired", http.StatusUnauthorized)
			return
		}

		secret, err := m.Secrets.IngestSecret(r.Context(), deviceUID)
		if err != nil {
			http.Error(w, "ingest auth unavailable", http.StatusServiceUnavailable)
			return
		}
		if len(secret) == 0 {
			http.Error(w, "unknown device", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		expected := ComputeIngestSignature(secret, timestamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
			http.Error(w, "invalid ingest signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// ComputeIngestSignature returns the hex HMAC-SHA256 over timestamp and body.
func ComputeIngestSignature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
