package middleware

import (
	"bytes"
	"crypto/hmac"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/pkg/client"
)

const (
	maxTimeSkew  = 60 // seconds
	maxBodyBytes = 1 << 20
)

// AuthMiddleware provides HMAC-based authentication.
type AuthMiddleware struct {
	apiKey    string
	apiSecret string
	log       *zap.Logger
	now       func() time.Time
}

// NewAuthMiddleware creates a new AuthMiddleware. With an empty apiKey the
// middleware lets every request through.
func NewAuthMiddleware(apiKey, apiSecret string, log *zap.Logger) *AuthMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthMiddleware{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		log:       log.Named("auth"),
		now:       time.Now,
	}
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, msg string, code int) {
	m.log.Warn("request rejected", zap.String("path", r.URL.Path), zap.String("reason", msg))
	http.Error(w, msg, code)
}

// Wrap wraps an http.Handler with authentication.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m.apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Check API Key
		if !hmac.Equal([]byte(r.Header.Get(client.APIKeyHeader)), []byte(m.apiKey)) {
			m.reject(w, r, "Invalid API Key", http.StatusUnauthorized)
			return
		}

		// 2. Check Timestamp, in both directions
		timestampStr := r.Header.Get(client.TimestampHeader)
		if timestampStr == "" {
			m.reject(w, r, "Missing timestamp header", http.StatusUnauthorized)
			return
		}
		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			m.reject(w, r, "Invalid timestamp format", http.StatusUnauthorized)
			return
		}
		skew := m.now().Unix() - timestamp
		if skew > maxTimeSkew || skew < -maxTimeSkew {
			m.reject(w, r, "Timestamp outside allowed window", http.StatusUnauthorized)
			return
		}

		// 3. Check Signature
		requestSignature := r.Header.Get(client.SignatureHeader)
		if requestSignature == "" {
			m.reject(w, r, "Missing signature header", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			m.reject(w, r, "Failed to read request body", http.StatusRequestEntityTooLarge)
			return
		}
		// Restore the body so the next handler can read it
		r.Body = io.NopCloser(bytes.NewReader(body))

		expectedSignature := client.Sign(m.apiSecret, timestampStr, body)
		if !hmac.Equal([]byte(requestSignature), []byte(expectedSignature)) {
			m.reject(w, r, "Invalid signature", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
