// Package config loads simplify settings from YAML or TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"simplify/internal/vm"
)

// Config holds the settings a run can be tuned with.
type Config struct {
	Debug bool   `json:"debug" yaml:"debug" toml:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	Cwd   string `json:"cwd,omitempty" yaml:"cwd,omitempty" toml:"cwd,omitempty" jsonschema:"title=Working Directory,description=Directory inputs are resolved against"`

	Limits Limits `json:"limits" yaml:"limits" toml:"limits" jsonschema:"title=Limits,description=Execution bounds"`

	DisableEmulation  bool `json:"disableEmulation" yaml:"disable_emulation" toml:"disable_emulation" jsonschema:"description=Never emulate calls"`
	DisableReflection bool `json:"disableReflection" yaml:"disable_reflection" toml:"disable_reflection" jsonschema:"description=Never reflect calls"`
	// Disables writing back mutated arguments of analyzed callees.
	DisableArgumentPropagation bool `json:"disableArgumentPropagation" yaml:"disable_argument_propagation" toml:"disable_argument_propagation" jsonschema:"description=Do not propagate callee argument mutations to the caller"`

	ImmutableClasses []string `json:"immutableClasses,omitempty" yaml:"immutable_classes,omitempty" toml:"immutable_classes,omitempty" jsonschema:"description=Extra class descriptors treated as immutable"`

	Format string   `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty" jsonschema:"enum=text,enum=markdown,enum=json,enum=yaml,enum=cbor,description=Report format"`
	Method []string `json:"method,omitempty" yaml:"method,omitempty" toml:"method,omitempty" jsonschema:"description=Only analyze methods whose descriptor contains one of these"`
}

// Limits bounds execution. Zero keeps the default.
type Limits struct {
	MaxCallDepth     int `json:"maxCallDepth,omitempty" yaml:"max_call_depth,omitempty" toml:"max_call_depth,omitempty" jsonschema:"minimum=0"`
	MaxNodeVisits    int `json:"maxNodeVisits,omitempty" yaml:"max_node_visits,omitempty" toml:"max_node_visits,omitempty" jsonschema:"minimum=0"`
	MaxAddressVisits int `json:"maxAddressVisits,omitempty" yaml:"max_address_visits,omitempty" toml:"max_address_visits,omitempty" jsonschema:"minimum=0"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	opts := vm.DefaultOptions()
	return Config{
		Limits: Limits{
			MaxCallDepth:     opts.MaxCallDepth,
			MaxNodeVisits:    opts.MaxNodeVisits,
			MaxAddressVisits: opts.MaxAddressVisits,
		},
		Format: "text",
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml is TOML, anything else is YAML.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("failed to parse %s: unknown key %s", path, undecoded[0])
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no run can use.
func (c Config) Validate() error {
	if c.Limits.MaxCallDepth < 0 || c.Limits.MaxNodeVisits < 0 || c.Limits.MaxAddressVisits < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	switch c.Format {
	case "", "text", "markdown", "json", "yaml", "cbor":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	return nil
}

// VMOptions converts the configuration to engine options.
func (c Config) VMOptions() vm.Options {
	opts := vm.DefaultOptions()
	if c.Limits.MaxCallDepth > 0 {
		opts.MaxCallDepth = c.Limits.MaxCallDepth
	}
	if c.Limits.MaxNodeVisits > 0 {
		opts.MaxNodeVisits = c.Limits.MaxNodeVisits
	}
	if c.Limits.MaxAddressVisits > 0 {
		opts.MaxAddressVisits = c.Limits.MaxAddressVisits
	}
	opts.DisableEmulation = c.DisableEmulation
	opts.DisableReflection = c.DisableReflection
	opts.PropagateArguments = !c.DisableArgumentPropagation
	opts.ImmutableClasses = append(opts.ImmutableClasses, c.ImmutableClasses...)
	return opts
}

// MatchMethod reports whether desc passes the method filter.
func (c Config) MatchMethod(desc string) bool {
	if len(c.Method) == 0 {
		return true
	}
	for _, m := range c.Method {
		if strings.Contains(desc, m) {
			return true
		}
	}
	return false
}
