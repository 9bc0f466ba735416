package main

import (
	"fmt"
	"os"

	"settingsd/internal/config"
	"settingsd/internal/logging"
	"settingsd/internal/settings"

	"github.com/spf13/cobra"
)

// cli carries the resolved configuration from the root command's
// PersistentPreRunE to the subcommands.
type cli struct {
	configPath string
	backend    string
	app        string
	dataDir    string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func main() {
	// Until the config is read, log at the defaults.
	logging.Init("info", "text")
	if err := execute(newRootCmd()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "settingsd",
		Short:         "Store and inspect per-application settings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "path to config file (default "+config.DefaultPath+")")
	f.StringVar(&c.backend, "backend", "", "settings backend (overrides config)")
	f.StringVar(&c.app, "app", "", "application namespace (overrides config)")
	f.StringVar(&c.dataDir, "data-dir", "", "data directory (overrides config)")
	f.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&c.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newGetCmd(c),
		newSetCmd(c),
		newRmCmd(c),
		newListCmd(c),
		newExportCmd(c),
		newImportCmd(c),
		newBackendsCmd(),
		newServeCmd(c),
	)
	return root
}

// execute runs root and reports a failure on its error stream.
func execute(root *cobra.Command) error {
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

// load reads the config file and environment, then applies flags that were
// set explicitly on the command line.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Settings.Backend = c.backend
	}
	if flags.Changed("app") {
		cfg.Settings.App = c.app
	}
	if flags.Changed("data-dir") {
		cfg.Settings.DataDir = c.dataDir
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = c.logFormat
	}

	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logging.InitWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	c.cfg = cfg
	return nil
}

// open returns the configured settings accessor. The caller closes it.
func (c *cli) open() (*settings.Accessor, error) {
	acc, err := settings.Open(c.cfg.SettingsOptions())
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return acc, nil
}
