// Package settings loads the runtime's YAML settings file and validates it
// against an embedded CUE schema before anything else consumes it. Default
// contexts and extensions are built from these values.
package settings

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Settings is the root of the settings file.
type Settings struct {
	Process ProcessSettings `yaml:"process" json:"process"`
	DB      DBSettings      `yaml:"db" json:"db"`
	Server  ServerSettings  `yaml:"server" json:"server"`
	Worker  WorkerSettings  `yaml:"worker" json:"worker"`
	Secrets SecretsSettings `yaml:"secrets" json:"secrets"`
}

// ProcessSettings feeds the default process context.
type ProcessSettings struct {
	EnvName string `yaml:"env_name" json:"env_name"`
	Testing bool   `yaml:"testing" json:"testing"`
}

// DBSettings locates the record store.
type DBSettings struct {
	Path string `yaml:"path" json:"path"`
}

// ServerSettings configures the HTTP server.
type ServerSettings struct {
	Addr string `yaml:"addr" json:"addr"`
}

// WorkerSettings configures the task worker.
type WorkerSettings struct {
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// SecretsSettings feeds the default secrets extension.
type SecretsSettings struct {
	Encrypted map[string]string `yaml:"encrypted" json:"encrypted,omitempty"`
}

// Default returns the settings used when no file is given.
func Default() *Settings {
	return &Settings{
		Process: ProcessSettings{EnvName: "dev"},
		DB:      DBSettings{Path: "ambit.db"},
		Server:  ServerSettings{Addr: ":8080"},
		Worker:  WorkerSettings{Concurrency: 1},
	}
}

// Load reads, parses, and validates the settings file. Fields absent from
// the file keep their defaults.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses and validates YAML settings content.
func Parse(raw []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("settings: parse: %w", err)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate unifies the settings value with the embedded CUE schema and
// reports every violation found.
func Validate(s *Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encode for validation: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if schema.Err() != nil {
		return fmt.Errorf("settings: compile schema: %w", schema.Err())
	}
	definition := schema.LookupPath(cue.ParsePath("#Settings"))
	if definition.Err() != nil {
		return fmt.Errorf("settings: schema definition: %w", definition.Err())
	}

	// JSON is valid CUE, so the encoded settings compile directly.
	value := ctx.CompileBytes(data)
	if value.Err() != nil {
		return fmt.Errorf("settings: encode value: %w", value.Err())
	}

	unified := definition.Unify(value)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("settings: invalid:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}
