package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shhac/grpcdesk/internal/app"
	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/vars"
	"github.com/spf13/cobra"
)

func newEnvCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environments and variables of the active workspace",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			ws, err := a.Store().Snapshot()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, env := range ws.Environments {
				marker := " "
				if env.ID == ws.ActiveEnvironmentID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\t%s\n", marker, env.Name, endpointLabel(env), env.ID)
				printVariables(cmd, env.Variables)
			}
			if len(ws.GlobalVariables) > 0 {
				fmt.Fprintln(out, "globals")
				printVariables(cmd, ws.GlobalVariables)
			}
			return nil
		}),
	}

	use := &cobra.Command{
		Use:   "use <name|id>",
		Short: "Select the active environment",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			ws, err := a.Store().Snapshot()
			if err != nil {
				return err
			}
			env, err := findEnvironment(ws, args[0])
			if err != nil {
				return err
			}
			if err := a.Store().SetActiveEnvironment(env.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active environment: %s\n", env.Name)
			return nil
		}),
	}

	cmd.AddCommand(list, newEnvAddCmd(o), use, newSetVarCmd(o))
	return cmd
}

func newEnvAddCmd(o *rootOptions) *cobra.Command {
	var (
		host       string
		port       int
		useTLS     bool
		skipVerify bool
		caCert     string
		bearer     string
		metadata   []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an environment",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			md, err := parseKeyValues(metadata)
			if err != nil {
				return err
			}
			env := domain.Environment{
				Name:     args[0],
				Host:     host,
				Port:     port,
				Metadata: md,
				Auth:     domain.NoAuth(),
			}
			if bearer != "" {
				env.Auth = domain.BearerToken(bearer)
			}
			if useTLS || skipVerify || caCert != "" {
				env.TLS = &domain.TLSConfig{
					Enabled:            true,
					InsecureSkipVerify: skipVerify,
					ServerCACertPath:   caCert,
				}
			}

			added, err := a.Store().AddEnvironment(env)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added environment %s (%s)\n", added.Name, added.ID)
			return nil
		}),
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "", "Server host")
	flags.IntVar(&port, "port", 0, "Server port")
	flags.BoolVar(&useTLS, "tls", false, "Connect with TLS")
	flags.BoolVar(&skipVerify, "insecure-skip-verify", false, "Skip server certificate verification (implies --tls)")
	flags.StringVar(&caCert, "ca-cert", "", "Server CA certificate PEM file (implies --tls)")
	flags.StringVar(&bearer, "bearer", "", "Bearer token sent as authorization metadata")
	flags.StringArrayVarP(&metadata, "metadata", "H", nil, "Default metadata key=value (repeatable)")
	return cmd
}

func newSetVarCmd(o *rootOptions) *cobra.Command {
	var (
		envName string
		global  bool
		secret  bool
	)

	cmd := &cobra.Command{
		Use:   "set-var <key> <value>",
		Short: "Set a variable on the active environment or the globals",
		Args:  cobra.ExactArgs(2),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			scope := ""
			if !global {
				ws, err := a.Store().Snapshot()
				if err != nil {
					return err
				}
				target := envName
				if target == "" {
					target = ws.ActiveEnvironmentID
				}
				if target == "" {
					return fmt.Errorf("no active environment; pass --env or --global")
				}
				env, err := findEnvironment(ws, target)
				if err != nil {
					return err
				}
				scope = env.ID
			}

			v, err := a.Store().SetVariable(scope, args[0], args[1], secret)
			if err != nil {
				return err
			}
			ns := domain.NamespaceEnv
			if global {
				ns = domain.NamespaceGlobal
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", vars.Placeholder(ns, v.Key))
			return nil
		}),
	}

	cmd.Flags().StringVar(&envName, "env", "", "Environment name or id (defaults to the active one)")
	cmd.Flags().BoolVar(&global, "global", false, "Set a workspace-global variable")
	cmd.Flags().BoolVar(&secret, "secret", false, "Mask the value in listings")
	cmd.MarkFlagsMutuallyExclusive("env", "global")
	return cmd
}

func findEnvironment(ws *domain.Workspace, nameOrID string) (domain.Environment, error) {
	if env, ok := ws.Environment(nameOrID); ok {
		return *env, nil
	}
	for _, env := range ws.Environments {
		if strings.EqualFold(env.Name, nameOrID) {
			return env, nil
		}
	}
	return domain.Environment{}, fmt.Errorf("environment %q not found", nameOrID)
}

func endpointLabel(env domain.Environment) string {
	if env.Host == "" && env.Port == 0 {
		return "-"
	}
	host := env.Host
	if host == "" {
		host = "localhost"
	}
	if env.Port == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, env.Port)
}

func printVariables(cmd *cobra.Command, list []domain.Variable) {
	sorted := append([]domain.Variable(nil), list...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for _, v := range sorted {
		value := v.Value
		if v.Secret {
			value = "********"
		}
		state := ""
		if !v.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "    %s = %s%s\n", v.Key, value, state)
	}
}
