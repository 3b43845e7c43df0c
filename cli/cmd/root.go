// Package cmd provides the Cobra commands for the fluxbundle CLI.
package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fluxbundle/cli/config"
	"github.com/fluxbase-eu/fluxbundle/cli/logging"
	"github.com/fluxbase-eu/fluxbundle/cli/output"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile    string
	projectDir string
	outputFmt  string
	logFormat  string
	noHeaders  bool
	quiet      bool
	debug      bool

	// Shared across commands
	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fluxbundle",
	Short: "fluxbundle - Bundle a library into its publishable package",
	Long: `fluxbundle bundles a JavaScript, TypeScript or Svelte library with esbuild and
registers the bundle in the package.json of the publishable package folder.

The bundle is written to the path named by the "module" field of the root
package.json, inside the package folder. Before every build the package
manifest's "module" field and its "./bundle" and "./bundle.map" exports are
pointed at that file.

Get started:
  fluxbundle build            Build once (production, minified)
  fluxbundle build --watch    Rebuild on change (development)
  fluxbundle exports --dry-run
                              Show the manifest changes a build would make

Configuration is read from fluxbundle.yaml in the project directory and from
FLUXBUNDLE_* environment variables, e.g. FLUXBUNDLE_WATCH=true.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet

		if viper.GetBool("debug") {
			debug = true
		}
		if err := logging.Setup(logging.Options{
			Out:    os.Stderr,
			Format: logFormat,
			Debug:  debug,
			Quiet:  quiet,
		}); err != nil {
			return err
		}

		format, err := output.ParseFormat(outputFmt)
		if err != nil {
			return err
		}
		formatter = output.NewFormatter(format, noHeaders, quiet)
		formatter.Writer = cmd.OutOrStdout()
		formatter.ErrWriter = cmd.ErrOrStderr()
		return nil
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is fluxbundle.yaml in the project directory)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", ".",
		"project directory holding the root package.json")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole,
		"log format: console, json")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	// Bind environment variables
	viper.SetEnvPrefix(config.EnvPrefix)
	_ = viper.BindEnv("debug") // FLUXBUNDLE_DEBUG

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(exportsCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)
}

// loadConfig loads the project configuration selected by the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ProjectDir: projectDir,
		ConfigFile: cfgFile,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Debug && !debug {
		debug = true
		_ = logging.Setup(logging.Options{Out: os.Stderr, Format: logFormat, Debug: true})
	}
	log.Debug().Str("project", cfg.ProjectDir).Msg("Configuration loaded")
	return cfg, nil
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, noHeaders, quiet)
	}
	return formatter
}

