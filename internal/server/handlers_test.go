package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambitlabs/ambit/internal/ambient"
)

func newTestServer(t *testing.T, roots ...RootFactory) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewContextMiddleware(NewMux(nil), roots, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleActiveContexts(t *testing.T) {
	srv := newTestServer(t, processRoot("test"), userRoot("alice"))

	resp, err := http.Get(srv.URL + "/contexts/active")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Context-Hash"))

	var envelopes []struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelopes))
	require.Len(t, envelopes, 2)
	assert.Equal(t, "ProcessContext", envelopes[0].Type)
	assert.Equal(t, "UserContext", envelopes[1].Type)
}

func TestHandleActiveContexts_PayloadReplays(t *testing.T) {
	srv := newTestServer(t, processRoot("test"))

	resp, err := http.Get(srv.URL + "/contexts/active")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// The served payload is a valid snapshot: a worker could replay it.
	snapshot, err := ambient.Deserialize(payload)
	require.NoError(t, err)
	require.Equal(t, 1, snapshot.Len())

	env := ambient.NewEnv()
	require.NoError(t, snapshot.Enter(env))
	require.NoError(t, snapshot.Exit())
}

func TestHandleProcessContext(t *testing.T) {
	srv := newTestServer(t, processRoot("prod"))

	resp, err := http.Get(srv.URL + "/contexts/process")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		EnvName string `json:"env_name"`
		Testing bool   `json:"testing"`
		EnvID   string `json:"env_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "prod", body.EnvName)
	assert.True(t, body.Testing)
	assert.NotEmpty(t, body.EnvID)
}

func TestHandleProcessContext_NoneActive(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/contexts/process")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
