// Package config loads and validates the daemon configuration file.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON []byte

const schemaName = "config.schema.json"

// Config is the daemon configuration. Every field has a working default;
// a missing config file yields Default().
type Config struct {
	SyncRoot            string `json:"syncRoot"`
	DisplayName         string `json:"displayName"`
	WorkspaceID         string `json:"workspaceId"`
	APIBaseURL          string `json:"apiBaseUrl"`
	APIToken            string `json:"apiToken"`
	StateDSN            string `json:"stateDsn"`
	AdminListenAddr     string `json:"adminListenAddr"`
	AdminToken          string `json:"adminToken"`
	FetchTimeoutSeconds int    `json:"fetchTimeoutSeconds"`
	LogLevel            string `json:"logLevel"`
}

func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, "Booth Drive")
	return Config{
		SyncRoot:            root,
		DisplayName:         "Booth Drive",
		WorkspaceID:         "default",
		APIBaseURL:          "http://127.0.0.1:8080",
		StateDSN:            filepath.Join(home, ".boothdrive", "state.json"),
		AdminListenAddr:     "127.0.0.1:7070",
		FetchTimeoutSeconds: 30,
		LogLevel:            "info",
	}
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Load reads a config file, validates it against the embedded schema, and
// fills unset fields from Default(). A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}

	if err := validate(data); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	applyOverrides(&cfg, instance)
	return cfg, nil
}

func validate(data []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, schemaDoc); err != nil {
		return err
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}

func applyOverrides(cfg *Config, instance any) {
	obj, ok := instance.(map[string]any)
	if !ok {
		return
	}
	if v, ok := obj["syncRoot"].(string); ok {
		cfg.SyncRoot = v
	}
	if v, ok := obj["displayName"].(string); ok {
		cfg.DisplayName = v
	}
	if v, ok := obj["workspaceId"].(string); ok {
		cfg.WorkspaceID = v
	}
	if v, ok := obj["apiBaseUrl"].(string); ok {
		cfg.APIBaseURL = v
	}
	if v, ok := obj["apiToken"].(string); ok {
		cfg.APIToken = v
	}
	if v, ok := obj["stateDsn"].(string); ok {
		cfg.StateDSN = v
	}
	if v, ok := obj["adminListenAddr"].(string); ok {
		cfg.AdminListenAddr = v
	}
	if v, ok := obj["adminToken"].(string); ok {
		cfg.AdminToken = v
	}
	switch v := obj["fetchTimeoutSeconds"].(type) {
	case float64:
		cfg.FetchTimeoutSeconds = int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			cfg.FetchTimeoutSeconds = int(n)
		}
	}
	if v, ok := obj["logLevel"].(string); ok {
		cfg.LogLevel = v
	}
}
