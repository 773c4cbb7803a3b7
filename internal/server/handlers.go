package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/ambitlabs/ambit/internal/ambient"
	"github.com/ambitlabs/ambit/internal/contexts"
)

// NewMux returns the diagnostic routes served behind ContextMiddleware.
// A nil logger means the process default.
func NewMux(logger *log.Logger) *http.ServeMux {
	if logger == nil {
		logger = log.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /contexts/active", handleActiveContexts(logger))
	mux.HandleFunc("GET /contexts/process", handleProcessContext)
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleActiveContexts serializes the request's active context set, the
// same payload a task submission would carry, and returns it with its
// content hash, so operators can see exactly what a deferred task spawned
// from this request would observe.
func handleActiveContexts(logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, ok := ambient.FromContext(r.Context())
		if !ok {
			http.Error(w, "no execution environment on request", http.StatusInternalServerError)
			return
		}
		snapshot, err := ambient.CaptureActive(env)
		if err != nil {
			logger.Error("failed to capture active contexts", "env", env.ID(), "err", err)
			http.Error(w, "capture failed", http.StatusInternalServerError)
			return
		}
		payload, err := snapshot.Serialize()
		if err != nil {
			logger.Error("failed to serialize active contexts", "env", env.ID(), "err", err)
			http.Error(w, "serialize failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Context-Hash", ambient.PayloadHash(payload))
		_, _ = w.Write(payload)
	}
}

func handleProcessContext(w http.ResponseWriter, r *http.Request) {
	env, ok := ambient.FromContext(r.Context())
	if !ok {
		http.Error(w, "no execution environment on request", http.StatusInternalServerError)
		return
	}
	proc, err := contexts.CurrentProcess(env)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"env_name": proc.EnvName,
		"testing":  proc.IsTesting(),
		"env_id":   env.ID(),
	})
}
