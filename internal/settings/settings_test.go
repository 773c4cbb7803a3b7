package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	s := Default()
	require.NoError(t, Validate(s))
	assert.Equal(t, "dev", s.Process.EnvName)
	assert.Equal(t, "ambit.db", s.DB.Path)
	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, 1, s.Worker.Concurrency)
}

func TestParse_OverridesDefaults(t *testing.T) {
	raw := []byte(`
process:
  env_name: prod
  testing: false
db:
  path: /var/lib/ambit/prod.db
server:
  addr: ":9090"
worker:
  concurrency: 4
secrets:
  encrypted:
    api-key: c2VjcmV0
`)

	s, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "prod", s.Process.EnvName)
	assert.Equal(t, "/var/lib/ambit/prod.db", s.DB.Path)
	assert.Equal(t, ":9090", s.Server.Addr)
	assert.Equal(t, 4, s.Worker.Concurrency)
	assert.Equal(t, "c2VjcmV0", s.Secrets.Encrypted["api-key"])
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	raw := []byte("process:\n  env_name: staging\n")

	s, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "staging", s.Process.EnvName)
	assert.Equal(t, "ambit.db", s.DB.Path, "unset sections keep their defaults")
	assert.Equal(t, 1, s.Worker.Concurrency)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("process: [not a map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"negative concurrency", func(s *Settings) { s.Worker.Concurrency = -1 }},
		{"zero concurrency", func(s *Settings) { s.Worker.Concurrency = 0 }},
		{"empty db path", func(s *Settings) { s.DB.Path = "" }},
		{"empty env name", func(s *Settings) { s.Process.EnvName = "" }},
		{"empty addr", func(s *Settings) { s.Server.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			err := Validate(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid")
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("process:\n  env_name: fromfile\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", s.Process.EnvName)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
