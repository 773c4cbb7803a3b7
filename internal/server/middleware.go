// Package server provides the HTTP boundary: middleware that establishes
// one fresh execution environment and root context set per request, and a
// few diagnostic handlers over the active context set.
package server

import (
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/ambitlabs/ambit/internal/ambient"
)

// RootFactory builds one fresh root context for a request. Contexts are
// never reused across scopes, so the middleware constructs a new instance
// per request rather than sharing one.
type RootFactory func() (ambient.Context, error)

// ContextMiddleware wraps each request in its own execution environment.
//
// Per request it creates an Env, saves and clears it, activates every
// configured root context in order, and tears everything down after the
// handler returns, including when the handler panics. Nothing a handler
// activates can leak into the next request.
type ContextMiddleware struct {
	next   http.Handler
	roots  []RootFactory
	logger *log.Logger
	newEnv func() *ambient.Env
}

// NewContextMiddleware wraps next. Roots are activated in the given order.
// A nil logger means the process default.
func NewContextMiddleware(next http.Handler, roots []RootFactory, logger *log.Logger) *ContextMiddleware {
	if logger == nil {
		logger = log.Default()
	}
	return &ContextMiddleware{
		next:   next,
		roots:  roots,
		logger: logger,
		newEnv: ambient.NewEnv,
	}
}

func (m *ContextMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	env := m.newEnv()
	token := env.SaveAndClear()
	defer func() {
		if err := env.Restore(token); err != nil {
			m.logger.Error("failed to restore environment after request", "env", env.ID(), "err", err)
		}
	}()

	var entered []*ambient.Active
	defer func() {
		recovered := recover()
		for i := len(entered) - 1; i >= 0; i-- {
			if err := entered[i].Exit(); err != nil {
				m.logger.Error("failed to exit request root context", "env", env.ID(), "err", err)
			}
		}
		if recovered != nil {
			m.logger.Error("handler panicked", "env", env.ID(), "panic", recovered)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}()

	for _, factory := range m.roots {
		c, err := factory()
		if err != nil {
			m.logger.Error("failed to build request root context", "env", env.ID(), "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		act, err := env.Activate(c)
		if err != nil {
			m.logger.Error("failed to activate request root context", "env", env.ID(), "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		entered = append(entered, act)
	}

	m.next.ServeHTTP(w, r.WithContext(ambient.NewContext(r.Context(), env)))
}
