package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rapidsai/ptxcompiler/internal/compat"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvLogLevel            = "PTXCOMPILER_LOG_LEVEL"
	EnvApplyPatch          = "PTXCOMPILER_APPLY_CODEGEN_PATCH"
	EnvCheckPatchNeeded    = "PTXCOMPILER_CHECK_CODEGEN_PATCH_NEEDED"
	EnvKnownDriverVersion  = "PTXCOMPILER_KNOWN_DRIVER_VERSION"
	EnvKnownRuntimeVersion = "PTXCOMPILER_KNOWN_RUNTIME_VERSION"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Compiler struct {
		MaxRegisters int      `yaml:"maxRegisters"`
		ExtraOptions []string `yaml:"extraOptions"`
	} `yaml:"compiler"`
	Probe struct {
		Timeout time.Duration `yaml:"timeout"`
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
	} `yaml:"probe"`
	Patch struct {
		Force               bool   `yaml:"force"`
		SkipProbe           bool   `yaml:"skipProbe"`
		KnownDriverVersion  string `yaml:"knownDriverVersion"`
		KnownRuntimeVersion string `yaml:"knownRuntimeVersion"`
	} `yaml:"patch"`
	Cache struct {
		Path   string        `yaml:"path"`
		MaxAge time.Duration `yaml:"maxAge"`
	} `yaml:"cache"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var config Config
	config.Cache.MaxAge = 24 * time.Hour
	return &config
}

// LoadConfig reads a yaml file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overlays the environment on the configuration. Integer flags that
// do not parse count as 0.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok {
		c.Logger.Verbosity = v
	}
	if v, ok := lookup(EnvApplyPatch); ok {
		c.Patch.Force = envInt(v) != 0
	}
	// Unset leaves probing enabled; any value other than a non-zero integer
	// disables it.
	if v, ok := lookup(EnvCheckPatchNeeded); ok {
		c.Patch.SkipProbe = envInt(v) == 0
	}
	if v, ok := lookup(EnvKnownDriverVersion); ok {
		c.Patch.KnownDriverVersion = v
	}
	if v, ok := lookup(EnvKnownRuntimeVersion); ok {
		c.Patch.KnownRuntimeVersion = v
	}
}

func envInt(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// Directives returns the gate directives the configuration selects.
func (c *Config) Directives() compat.Directives {
	return compat.Directives{
		Force:        c.Patch.Force,
		SkipProbe:    c.Patch.SkipProbe,
		KnownDriver:  c.Patch.KnownDriverVersion,
		KnownRuntime: c.Patch.KnownRuntimeVersion,
	}
}
