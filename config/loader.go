/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// DefaultEnvVarsPrefix is the prefix of environment variables that override file values (e.g. REQGUARD_RATELIMIT_MAXTOKENS).
const DefaultEnvVarsPrefix = "reqguard"

// Loader fills Config objects from a DataProvider.
// Defaults of all objects are registered before any of them is set,
// so objects sharing keys see the same defaults.
type Loader struct {
	DataProvider DataProvider
}

// NewDefaultLoader creates a Loader backed by viper that also reads environment variables with the given prefix.
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// NewLoader creates a new Loader.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{DataProvider: dp}
}

// DataTypeFromPath detects the data format by the file extension (.yml, .yaml or .json).
func DataTypeFromPath(path string) (DataType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return DataTypeYAML, nil
	case ".json":
		return DataTypeJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}

// Load reads the file detecting its format by extension. An empty path means defaults and env vars only.
func (l *Loader) Load(path string, cfg Config, cfgs ...Config) error {
	if path == "" {
		return l.LoadDefaults(cfg, cfgs...)
	}
	dataType, err := DataTypeFromPath(path)
	if err != nil {
		return err
	}
	return l.LoadFromFile(path, dataType, cfg, cfgs...)
}

// LoadFromFile reads the file of the given format and sets the values in configuration objects.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return err
	}
	return l.LoadDefaults(cfg, cfgs...)
}

// LoadFromReader is LoadFromFile for an io.Reader.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return err
	}
	return l.LoadDefaults(cfg, cfgs...)
}

// LoadDefaults sets configuration objects from whatever the provider already holds (defaults and env vars at least).
func (l *Loader) LoadDefaults(cfg Config, cfgs ...Config) error {
	all := append([]Config{cfg}, cfgs...)
	for _, c := range all {
		c.SetProviderDefaults(providerForConfig(l.DataProvider, c))
	}
	for _, c := range all {
		if err := c.Set(providerForConfig(l.DataProvider, c)); err != nil {
			return err
		}
	}
	return nil
}
