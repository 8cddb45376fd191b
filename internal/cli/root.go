package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/micr/internal/config"
)

// Version is set at build time via -ldflags
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "micr",
	Short: "micr - MICR line reader with tri-modal confidence scoring",
	Long: `micr reads the MICR line at the bottom of a cheque with a vision language
model and scores every component it extracts.

Each component (transit, institution, account, cheque number) gets a
confidence built from three independent signals:
  - the model's self-reported confidence
  - the token log-probabilities behind the digits it generated
  - deterministic format validation

The score tells you how much to trust a read. It does not tell you the
cheque is genuine.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of micr.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "micr %s\n", Version)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or $HOME/.micr/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads .env, the config file and MICR_* environment variables,
// then installs the global logger
func initConfig(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "load .env")
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Level = "debug"
	}

	if err := config.InitLogger(loaded.Log); err != nil {
		return err
	}

	if verbose {
		if loaded.File != "" {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", loaded.File)
		} else {
			fmt.Fprintf(os.Stderr, "No config file found, using defaults\n")
		}
	}

	cfg = loaded
	return nil
}
