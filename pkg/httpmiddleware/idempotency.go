package httpmiddleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader names the client-chosen replay key.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotentBody = 1 << 20

// IdempotencyStore persists recorded responses. SetNX must be atomic: it
// is what serializes concurrent requests sharing a key.
type IdempotencyStore interface {
	Key(parts ...string) string
	Get(ctx context.Context, key string) (string, bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// IdempotencyConfig configures the Idempotency middleware.
type IdempotencyConfig struct {
	Store IdempotencyStore
	TTL   time.Duration
	// Scope returns the caller identity the key is scoped to.
	Scope func(r *http.Request) string
}

// idempotencyRecord is either a reservation held while the first request
// runs (Pending) or the recorded response.
type idempotencyRecord struct {
	Pending     bool
	Status      int
	ContentType string
	Body        []byte
	RequestHash string
}

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key with the same body, and rejects reuse of a key with a
// different body with 409. The key is reserved before the handler runs, so
// a repeat arriving while the first request is in flight gets 409 instead
// of executing twice. Only successful responses are recorded; otherwise the
// reservation is released. Requests without the header pass through; a nil
// store disables it.
func Idempotency(cfg IdempotencyConfig) Middleware {
	return func(next http.Handler) http.Handler {
		if cfg.Store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			lg := zctx.From(ctx)

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				WriteError(w, http.StatusBadRequest, "read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var scope string
			if cfg.Scope != nil {
				scope = cfg.Scope(r)
			}
			key := cfg.Store.Key("idempotency", scope, r.Method, r.URL.Path, idemKey)
			hash := hashBody(body)

			reservation := idempotencyRecord{Pending: true, RequestHash: hash}
			acquired, err := cfg.Store.SetNX(ctx, key, string(reservation.encode()), cfg.TTL)
			if err != nil {
				lg.Error("Idempotency reservation failed", zap.Error(err))
				WriteError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !acquired {
				replayIdempotent(w, r, cfg.Store, key, hash)
				return
			}

			// The outcome is stored even if the client goes away mid-request.
			storeCtx := context.WithoutCancel(ctx)
			recorded := false
			defer func() {
				if recorded {
					return
				}
				if err := cfg.Store.Del(storeCtx, key); err != nil {
					lg.Warn("Release idempotency key", zap.Error(err))
				}
			}()

			capture := &captureWriter{statusRecorder: statusRecorder{ResponseWriter: w}}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status < 200 || status >= 300 {
				return
			}
			rec := idempotencyRecord{
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				RequestHash: hash,
			}
			if err := cfg.Store.Set(storeCtx, key, string(rec.encode()), cfg.TTL); err != nil {
				lg.Warn("Persist idempotency record", zap.Error(err))
				return
			}
			recorded = true
		})
	}
}

// replayIdempotent answers a request whose key is already taken.
func replayIdempotent(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key, hash string) {
	lg := zctx.From(r.Context())

	stored, ok, err := store.Get(r.Context(), key)
	if err != nil {
		lg.Error("Idempotency lookup failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		// Released between our SetNX and Get: the first attempt failed.
		WriteError(w, http.StatusConflict, "idempotent request did not complete, retry")
		return
	}
	rec, err := decodeIdempotencyRecord([]byte(stored))
	if err != nil {
		lg.Error("Decode idempotency record", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch {
	case rec.RequestHash != hash:
		WriteError(w, http.StatusConflict, "idempotency key reused with a different request body")
	case rec.Pending:
		WriteError(w, http.StatusConflict, "request with this idempotency key is in progress")
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

type captureWriter struct {
	statusRecorder
	body bytes.Buffer
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.statusRecorder.Write(b)
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (rec idempotencyRecord) encode() []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	if rec.Pending {
		e.FieldStart("pending")
		e.Bool(true)
	}
	e.FieldStart("status")
	e.Int(rec.Status)
	e.FieldStart("content_type")
	e.Str(rec.ContentType)
	e.FieldStart("body")
	e.Base64(rec.Body)
	e.FieldStart("request_hash")
	e.Str(rec.RequestHash)
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func decodeIdempotencyRecord(data []byte) (idempotencyRecord, error) {
	var rec idempotencyRecord
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "pending":
			rec.Pending, err = d.Bool()
		case "status":
			rec.Status, err = d.Int()
		case "content_type":
			rec.ContentType, err = d.Str()
		case "body":
			rec.Body, err = d.Base64()
		case "request_hash":
			rec.RequestHash, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return rec, errors.Wrap(err, "decode record")
	}
	if !rec.Pending && rec.Status == 0 {
		return rec, errors.New("record without status")
	}
	return rec, nil
}
