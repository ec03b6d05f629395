package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/shhac/grpcdesk/internal/app"
	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/vars"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	debug       bool
	verbose     bool
	storage     string
	storagePath string
	logFile     string
	workspace   string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "grpcdesk",
		Short: "grpcdesk - gRPC request workbench",
		Long: `grpcdesk calls gRPC services discovered through server reflection.

Workspaces hold environments, variables, saved requests and call history.
Request bodies, metadata and auth values may reference {{env.KEY}} and
{{global.KEY}} placeholders, resolved against the active environment.

Examples:
  grpcdesk env add local --host localhost --port 50051
  grpcdesk services
  grpcdesk call grpc.health.v1.Health/Check --body '{"service": ""}'
  grpcdesk call echo.Echo/Collect -m '{"n": 1}' -m '{"n": 2}'
  grpcdesk history --limit 10`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Mirror logs to stderr")
	flags.StringVar(&o.storage, "storage", "", "Storage backend (file/sqlite/memory)")
	flags.StringVar(&o.storagePath, "storage-path", "", "Directory for workspaces and settings")
	flags.StringVar(&o.logFile, "log-file", "", "Log file path (defaults to the platform log directory)")
	flags.StringVarP(&o.workspace, "workspace", "w", "", "Workspace to open (created if missing)")

	cmd.AddCommand(
		newWorkspaceCmd(o),
		newEnvCmd(o),
		newServicesCmd(o),
		newCallCmd(o),
		newHistoryCmd(o),
	)
	return cmd
}

// open builds the application from settings, environment and flags.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg := app.DefaultConfig()
	if o.storagePath != "" {
		cfg.StoragePath = o.storagePath
	} else if p := os.Getenv("GRPCDESK_STORAGE_PATH"); p != "" {
		cfg.StoragePath = p
	}
	if cfg.StoragePath != "" {
		if err := cfg.LoadSettings(cfg.StoragePath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = o.debug
	}
	if o.storage != "" {
		cfg.StorageBackend = strings.ToLower(o.storage)
	}
	if o.storagePath != "" {
		cfg.StoragePath = o.storagePath
	}
	if o.logFile != "" {
		cfg.LogPath = o.logFile
	}

	opts := app.Options{
		OnUnresolved: func(tabID string, unresolved []domain.UnresolvedVariable) {
			names := make([]string, 0, len(unresolved))
			for _, u := range unresolved {
				names = append(names, vars.Placeholder(u.Namespace, u.Key))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: unresolved variables: %s\n", strings.Join(names, ", "))
		},
	}
	if o.verbose {
		opts.LogMirror = cmd.ErrOrStderr()
	}

	a, err := app.New(cmd.Context(), cfg, opts)
	if err != nil {
		return nil, err
	}
	if o.workspace != "" {
		if _, err := a.Store().OpenOrCreate(o.workspace); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

// withApp opens the application around fn.
func (o *rootOptions) withApp(fn func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := o.open(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := a.Close(); err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, args, a)
	}
}

// parseKeyValues turns repeated key=value flags into a map.
func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}
