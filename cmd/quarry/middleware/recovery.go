package middleware

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/handlers"
)

// RecoveryMiddleware provides panic recovery middleware.
type RecoveryMiddleware struct {
	logger zerolog.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger zerolog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger: logger,
	}
}

// Handler turns a handler panic into a 500 response.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			m.handlePanic(rec, r.Method+" "+r.URL.Path)
			handlers.WriteError(w, errors.New(errors.CodeInternal, "internal server error"))
		}()

		next.ServeHTTP(w, r)
	})
}

// handlePanic logs panic information.
func (m *RecoveryMiddleware) handlePanic(r interface{}, route string) {
	stack := debug.Stack()

	m.logger.Error().
		Str("route", route).
		Interface("panic", r).
		Str("stack", string(stack)).
		Msg("Panic recovered")

	fmt.Fprintf(stderr, "PANIC in %s: %v\n%s\n", route, r, stack)
}

// stderr is used for panic output
var stderr io.Writer = os.Stderr
