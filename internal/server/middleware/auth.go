package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
)

// Identity headers.
const (
	HeaderCaller          = "X-Caller"
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletTimestamp = "X-Wallet-Timestamp"
	HeaderWalletSignature = "X-Wallet-Signature"
)

// MaxBodyBytes bounds request bodies read for signature checks.
const MaxBodyBytes = 1 << 20

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// AuthConfig configures Auth.
type AuthConfig struct {
	// APIKey gates operator access. Empty disables the key check and trusts
	// X-Caller as given.
	APIKey string
	// WalletSkew is the accepted clock difference for wallet signatures.
	WalletSkew time.Duration
	// Public lists exact paths served without any credentials.
	Public []string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Auth resolves the caller of every request.
//
// A request signed with the wallet headers is authenticated as that wallet
// and needs no API key. Any other request must present the API key (Bearer
// token or X-API-Key) and may name its caller in X-Caller. Requests without
// a caller can still reach read-only endpoints.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	public := make(map[string]bool, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get(HeaderWalletSignature) != "" {
				caller, err := verifyWallet(r, now(), cfg.WalletSkew)
				if err != nil {
					writeUnauthorized(w, err.Error())
					return
				}
				annotateCaller(r.Context(), caller.Hex())
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
				return
			}

			if cfg.APIKey != "" {
				token := extractToken(r)
				if token == "" {
					writeUnauthorized(w, "missing authentication token")
					return
				}
				if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
					writeUnauthorized(w, "invalid authentication token")
					return
				}
			}

			if v := strings.TrimSpace(r.Header.Get(HeaderCaller)); v != "" {
				if !common.IsHexAddress(v) {
					writeUnauthorized(w, "invalid "+HeaderCaller+" header")
					return
				}
				caller := common.HexToAddress(v)
				annotateCaller(r.Context(), caller.Hex())
				r = r.WithContext(WithCaller(r.Context(), caller))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// verifyWallet checks the wallet headers against the request and restores
// the body for the handler.
func verifyWallet(r *http.Request, now time.Time, skew time.Duration) (common.Address, error) {
	addr := strings.TrimSpace(r.Header.Get(HeaderWalletAddress))
	if !common.IsHexAddress(addr) {
		return common.Address{}, errors.New("invalid wallet address")
	}
	tsRaw := strings.TrimSpace(r.Header.Get(HeaderWalletTimestamp))
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, errors.New("invalid wallet timestamp")
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return common.Address{}, errors.New("wallet timestamp outside allowed skew")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		r.Body.Close()
		if err != nil {
			return common.Address{}, errors.New("read body")
		}
		if len(body) > MaxBodyBytes {
			return common.Address{}, errors.New("request body too large")
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	claimed := common.HexToAddress(addr)
	msg := crypto.WalletMessage(r.Method, r.URL.Path, ts, body)
	if err := crypto.VerifyWalletSignature(claimed, msg, r.Header.Get(HeaderWalletSignature)); err != nil {
		return common.Address{}, errors.New("invalid wallet signature")
	}
	return claimed, nil
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg, "Unauthorized")
}

func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	data, _ := json.Marshal(map[string]string{"error": msg, "code": code})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
