package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/smarter-guild/bytes-core/internal/apierr"
)

type contextKey string

// KeyNameContextKey stores which configured key (bot/admin) authenticated the request.
const KeyNameContextKey contextKey = "key_name"

// KeyName identifies which configured API key authenticated a request.
type KeyName string

const (
	KeyNameBot   KeyName = "bot"
	KeyNameAdmin KeyName = "admin"
)

// Auth validates the Authorization bearer token against the configured
// bot and admin keys using constant-time comparison. Unlike the
// upstream-delegating auth the gateway teacher uses, this service is
// the authority: there is no backend to validate against.
func Auth(botKey, adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				apierr.WriteHTTP(w, apierr.New(apierr.KindAuth, "missing bearer token"))
				return
			}

			var keyName KeyName
			switch {
			case adminKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) == 1:
				keyName = KeyNameAdmin
			case botKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(botKey)) == 1:
				keyName = KeyNameBot
			default:
				apierr.WriteHTTP(w, apierr.New(apierr.KindAuth, "invalid API key"))
				return
			}

			ctx := context.WithValue(r.Context(), KeyNameContextKey, keyName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests that did not authenticate with the
// admin key, for admin-only routes (e.g. updating guild config).
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if KeyFrom(r.Context()) != KeyNameAdmin {
			apierr.WriteHTTP(w, apierr.New(apierr.KindForbidden, "admin key required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyFrom extracts the authenticated KeyName from a request context.
func KeyFrom(ctx context.Context) KeyName {
	if v, ok := ctx.Value(KeyNameContextKey).(KeyName); ok {
		return v
	}
	return ""
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
