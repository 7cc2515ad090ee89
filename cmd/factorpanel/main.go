package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"factorpanel/internal/config"
	"factorpanel/internal/infrastructure"
	"factorpanel/pkg/contracts"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	configPath string
	envFile    string
}

// cli carries the writers and the optional logger the commands use.
// A nil logger means the global one is initialized from the config.
type cli struct {
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
	flags  rootFlags
}

func main() {
	c := &cli{out: os.Stdout, errOut: os.Stderr}
	if err := c.rootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("factorpanel failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	infrastructure.CloseLogFile()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Build a firm-month factor panel and fit three-factor regressions",
		Long: `factorpanel joins firm headers, index membership, monthly returns,
industry classifications and Fama-French factors into one panel, then fits
ret ~ mktrf + smb + hml per industry class and pooled.

Configuration is read from defaults, a YAML file and FP_* environment
variables, in increasing order of precedence.`,
		Version:       contracts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadEnv()
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.PersistentFlags().StringVarP(&c.flags.configPath, "config", "c", "", "YAML config file (defaults to factorpanel.yaml or configs/factorpanel.yaml)")
	root.PersistentFlags().StringVar(&c.flags.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(c.runCmd(), c.checkCmd(), c.versionCmd())
	return root
}

// loadEnv applies the dotenv file. A missing file is not an error.
func (c *cli) loadEnv() error {
	if c.flags.envFile == "" {
		return nil
	}
	if err := godotenv.Load(c.flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", c.flags.envFile, err)
	}
	return nil
}

// setup loads the configuration and resolves the logger
func (c *cli) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.flags.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := c.logger
	if logger == nil {
		logger, err = infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, nil, err
		}
	}
	return cfg, logger, nil
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), contracts.GetFullVersionString())
		},
	}
}
