package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "X-Idempotent-Replayed"

	idempotencyTTL = 24 * time.Hour
	maxKeyLength   = 255
)

type idempotencyStore interface {
	Reserve(ctx context.Context, key string, userID uuid.UUID, requestHash string, ttl time.Duration) (*repository.IdempotencyCacheEntry, bool, error)
	Complete(ctx context.Context, key string, userID uuid.UUID, statusCode int, body []byte) error
	Release(ctx context.Context, key string, userID uuid.UUID) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// The key is reserved before the handler runs, so a concurrent duplicate
// gets idempotency_in_progress instead of executing twice. Final responses
// are stored; server errors, retryable errors and time-bound refusals
// release the key so the client can retry. Must run after Auth.
func Idempotency(store idempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || len(key) > maxKeyLength {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}

			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			log := logging.FromContext(r.Context()).With("idempotency_key", key)
			reqHash := computeHash(r.Method, r.URL.Path, body)

			existing, reserved, err := store.Reserve(r.Context(), key, userID, reqHash, idempotencyTTL)
			if err != nil {
				log.Error("idempotency reservation failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}

			if !reserved {
				switch {
				case existing.RequestHash != reqHash:
					handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
				case existing.InFlight():
					handler.RespondAppError(w, handler.ErrIdempotencyInProgress, nil)
				default:
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(ReplayedHeader, "true")
					w.WriteHeader(existing.StatusCode)
					if _, err := w.Write(existing.ResponseBody); err != nil {
						log.Error("failed to write idempotent replay", "error", err)
					}
				}
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			completed := false
			defer func() {
				if completed {
					return
				}
				// The handler panicked; free the key before Recovery answers.
				if err := store.Release(context.WithoutCancel(r.Context()), key, userID); err != nil {
					log.Error("idempotency release failed", "error", err)
				}
			}()

			next.ServeHTTP(rec, r)
			completed = true

			ctx := context.WithoutCancel(r.Context())
			if !storable(rec) {
				if err := store.Release(ctx, key, userID); err != nil {
					log.Error("idempotency release failed", "error", err)
				}
				return
			}
			if err := store.Complete(ctx, key, userID, rec.statusCode, rec.body.Bytes()); err != nil {
				log.Error("idempotency cache store failed", "error", err)
			}
		})
	}
}

// storable reports whether a response is final for its request. A retry
// with the same key must run the handler again after anything else.
func storable(rec *responseRecorder) bool {
	switch {
	case rec.statusCode >= http.StatusInternalServerError,
		rec.statusCode == http.StatusLocked,
		rec.statusCode == http.StatusTooManyRequests:
		return false
	case rec.Header().Get(handler.RetryableHeader) == "true":
		return false
	}
	return true
}

func computeHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
