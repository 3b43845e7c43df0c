// Package config provides project configuration for fluxbundle.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. FLUXBUNDLE_WATCH=true or FLUXBUNDLE_OUTPUT_SOURCEMAP=false
const EnvPrefix = "FLUXBUNDLE"

// ConfigName is the config file name (without extension) looked up in the project directory
const ConfigName = "fluxbundle"

// Config represents the project configuration
type Config struct {
	// Input is the entry module of the bundle
	Input string `mapstructure:"input" yaml:"input" json:"input"`

	// PackageFolder is the publishable package root holding the second package.json
	PackageFolder string `mapstructure:"package_folder" yaml:"package_folder" json:"package_folder"`

	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
	Exports    ExportsConfig    `mapstructure:"exports" yaml:"exports" json:"exports"`
	Svelte     SvelteConfig     `mapstructure:"svelte" yaml:"svelte" json:"svelte"`
	Resolve    ResolveConfig    `mapstructure:"resolve" yaml:"resolve" json:"resolve"`
	TypeScript TypeScriptConfig `mapstructure:"typescript" yaml:"typescript" json:"typescript"`

	// Banner prepends a "/*! name vX.Y.Z */" comment to the bundle
	Banner bool `mapstructure:"banner" yaml:"banner" json:"banner"`

	// Watch rebuilds on change; a watch build is a development build
	Watch bool `mapstructure:"watch" yaml:"watch" json:"watch"`

	Debug bool `mapstructure:"debug" yaml:"debug" json:"debug"`

	// ProjectDir is the directory the config was loaded for
	ProjectDir string `mapstructure:"-" yaml:"-" json:"project_dir"`
}

// OutputConfig describes the bundle output
type OutputConfig struct {
	Format               string `mapstructure:"format" yaml:"format" json:"format"` // es, cjs or iife
	Sourcemap            bool   `mapstructure:"sourcemap" yaml:"sourcemap" json:"sourcemap"`
	InlineDynamicImports bool   `mapstructure:"inline_dynamic_imports" yaml:"inline_dynamic_imports" json:"inline_dynamic_imports"`
}

// ExportsConfig controls the entries written to the package manifest
type ExportsConfig struct {
	Key string `mapstructure:"key" yaml:"key" json:"key"`
}

// SvelteConfig configures the component compiler
type SvelteConfig struct {
	// Compiler is the node executable used to run svelte/compiler
	Compiler string `mapstructure:"compiler" yaml:"compiler" json:"compiler"`

	// EmitCSS writes component styles to a separate file instead of injecting them
	EmitCSS bool `mapstructure:"emit_css" yaml:"emit_css" json:"emit_css"`
}

// ResolveConfig configures module resolution
type ResolveConfig struct {
	Browser  bool     `mapstructure:"browser" yaml:"browser" json:"browser"`
	External []string `mapstructure:"external" yaml:"external,omitempty" json:"external,omitempty"`
}

// TypeScriptConfig configures type stripping
type TypeScriptConfig struct {
	Tsconfig string `mapstructure:"tsconfig" yaml:"tsconfig,omitempty" json:"tsconfig,omitempty"`
}

// LoadOptions selects where configuration is read from
type LoadOptions struct {
	// ProjectDir is searched for fluxbundle.yaml and .env files (default ".")
	ProjectDir string

	// ConfigFile overrides the config file lookup
	ConfigFile string
}

// Load loads configuration from the config file, .env files and environment variables
func Load(opts LoadOptions) (*Config, error) {
	projectDir := opts.ProjectDir
	if projectDir == "" {
		projectDir = "."
	}

	if err := loadEnvFile(projectDir); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(projectDir)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectDir = projectDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads the first .env file found in dir. Existing variables win.
func loadEnvFile(dir string) error {
	for _, name := range []string{".env", ".env.local"} {
		location := filepath.Join(dir, name)
		if _, err := os.Stat(location); err != nil {
			continue
		}
		if err := godotenv.Load(location); err != nil {
			return fmt.Errorf("error loading .env file from %s: %w", location, err)
		}
		log.Debug().Str("file", location).Msg(".env file loaded")
		return nil
	}
	return fmt.Errorf("no .env file found in %s", dir)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "src/lib/index.js")
	v.SetDefault("package_folder", "package")

	v.SetDefault("output.format", "es")
	v.SetDefault("output.sourcemap", true)
	v.SetDefault("output.inline_dynamic_imports", true)

	v.SetDefault("exports.key", "./bundle")

	v.SetDefault("svelte.compiler", "node")
	v.SetDefault("svelte.emit_css", false)

	v.SetDefault("resolve.browser", true)
	v.SetDefault("resolve.external", []string{})

	v.SetDefault("typescript.tsconfig", "")

	v.SetDefault("banner", false)
	v.SetDefault("watch", false)
	v.SetDefault("debug", false)
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Production reports whether this is a production build (not watching)
func (c *Config) Production() bool {
	return !c.Watch
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("input cannot be empty")
	}
	if c.PackageFolder == "" {
		return fmt.Errorf("package_folder cannot be empty")
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output configuration error: %w", err)
	}
	if !strings.HasPrefix(c.Exports.Key, "./") {
		return fmt.Errorf("exports.key must start with \"./\" (got %q)", c.Exports.Key)
	}
	return nil
}

// Validate validates the output configuration
func (oc *OutputConfig) Validate() error {
	validFormats := []string{"es", "esm", "cjs", "iife"}
	for _, f := range validFormats {
		if oc.Format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid output format: %s (must be one of: %v)", oc.Format, validFormats)
}

// Path resolves a project-relative path against the project directory
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) || c.ProjectDir == "" {
		return rel
	}
	return filepath.Join(c.ProjectDir, rel)
}
