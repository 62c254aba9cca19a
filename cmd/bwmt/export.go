package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/setup"
)

func newExportCmd() *cobra.Command {
	var (
		path string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the setup and derived values as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = setup.DefaultPath()
			}
			f, err := setup.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load setup: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return setup.NewExport(f.Geometry, time.Now()).WriteTOML(w)
		},
	}
	cmd.Flags().StringVar(&path, "setup", "", "setup file path (default $XDG_CONFIG_HOME/bwmt/setup.toml)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}
