package main

import (
	"encoding/json"
	"fmt"
	"os"

	"settingsd/internal/config"
	"settingsd/internal/settings"
	"settingsd/internal/snapshot"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.open()
			if err != nil {
				return err
			}
			defer acc.Close()

			value, ok, err := acc.Retrieve(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: not set", args[0])
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.open()
			if err != nil {
				return err
			}
			defer acc.Close()
			return acc.Store(args[0], args[1])
		},
	}
}

func newRmCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove", "del"},
		Short:   "Remove a setting",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.open()
			if err != nil {
				return err
			}
			defer acc.Close()
			return acc.Remove(args[0])
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every setting of the application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acc, err := c.open()
			if err != nil {
				return err
			}
			defer acc.Close()

			list, err := acc.List()
			if err != nil {
				return err
			}
			return writeList(cmd, output, list)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func writeList(cmd *cobra.Command, output string, list []settings.Setting) error {
	out := cmd.OutOrStdout()
	if list == nil {
		list = []settings.Setting{}
	}
	switch output {
	case "text":
		for _, s := range list {
			_, _ = fmt.Fprintf(out, "%s=%s\n", s.Key, s.Value)
		}
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(list); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", output)
	}
}

func newExportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every setting to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.open()
			if err != nil {
				return err
			}
			defer acc.Close()

			snap, err := snapshot.Export(acc, acc.App())
			if err != nil {
				return err
			}
			f, err := os.OpenFile(config.ExpandHome(args[0]), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("creating snapshot file: %w", err)
			}
			if err := snapshot.Write(f, snap); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing snapshot file: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d settings (snapshot %s)\n", len(snap.Settings), snap.ID)
			return nil
		},
	}
}

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Store every setting from a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(config.ExpandHome(args[0]))
			if err != nil {
				return fmt.Errorf("opening snapshot file: %w", err)
			}
			snap, err := snapshot.Read(f)
			_ = f.Close()
			if err != nil {
				return err
			}

			acc, err := c.open()
			if err != nil {
				return err
			}
			defer acc.Close()

			n, err := snapshot.Import(acc, snap)
			if err != nil {
				return fmt.Errorf("%w (%d settings stored before the failure)", err, n)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d settings from %s\n", n, snap.App)
			return nil
		},
	}
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the settings backends available on this platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def := settings.DefaultBackend()
			for _, b := range settings.DefaultRegistry().Backends() {
				marker := ""
				if b == def {
					marker = " (default)"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", b, marker)
			}
			return nil
		},
	}
}
