package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shhac/grpcdesk/internal/app"
	"github.com/shhac/grpcdesk/internal/workspace"
	"github.com/spf13/cobra"
)

func newWorkspaceCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage workspaces",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			summaries, err := a.Store().List()
			if err != nil {
				return err
			}
			activeID := a.Store().ActiveID()
			out := cmd.OutOrStdout()
			for _, s := range summaries {
				marker := " "
				if s.ID == activeID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\n", marker, s.Name, s.ID)
			}
			return nil
		}),
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			ws, err := a.Store().Create(args[0])
			if err != nil {
				return err
			}
			if err := a.Store().Open(ws.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created workspace %s (%s)\n", ws.Name, ws.ID)
			return nil
		}),
	}

	use := &cobra.Command{
		Use:   "use <name|id>",
		Short: "Switch the active workspace",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			s, ok, err := a.Store().Find(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("workspace %q not found", args[0])
			}
			if err := a.Store().Open(s.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to workspace %s\n", s.Name)
			return nil
		}),
	}

	cmd.AddCommand(list, create, use, newExportCmd(o), newImportCmd(o))
	return cmd
}

func newExportCmd(o *rootOptions) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the active workspace as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app.App) (err error) {
			if format == "" && output != "" {
				format = formatFromPath(output)
			}
			f, err := workspace.ParseFormat(format)
			if err != nil {
				return err
			}

			if output == "" {
				return a.Store().Export(cmd.OutOrStdout(), f)
			}
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer func() {
				if closeErr := file.Close(); err == nil {
					err = closeErr
				}
			}()
			return a.Store().Export(file, f)
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (json/yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newImportCmd(o *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a workspace export and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			if format == "" {
				format = formatFromPath(args[0])
			}
			f, err := workspace.ParseFormat(format)
			if err != nil {
				return err
			}

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer file.Close()

			ws, err := a.Store().Import(file, f)
			if err != nil {
				return err
			}
			if err := a.Store().Open(ws.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported workspace %s (%s)\n", ws.Name, ws.ID)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format (json/yaml, default from extension)")
	return cmd
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return string(workspace.FormatYAML)
	default:
		return string(workspace.FormatJSON)
	}
}
