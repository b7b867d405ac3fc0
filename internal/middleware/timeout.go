package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/smarter-guild/bytes-core/internal/apierr"
)

// Timeout bounds request handling to d, writing a 504 if the deadline
// elapses before the handler finishes. Adapted from the gateway
// teacher's per-provider timeout middleware, minus the per-provider
// lookup this domain doesn't need — routes that want a non-default
// bound (analytics, health) wrap themselves with a distinct duration.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutWriter{ResponseWriter: w}

			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
				tw.mu.Lock()
				tw.timedOut = true
				if !tw.wroteHeader {
					apierr.WriteHTTP(w, apierr.New(apierr.KindTimeout, "request timed out"))
					tw.wroteHeader = true
				}
				tw.mu.Unlock()
				<-done
			}
		})
	}
}

type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, context.DeadlineExceeded
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}
