// Package callconfig merges environment defaults and tab overrides into the
// effective configuration used to dispatch a call.
package callconfig

import (
	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/vars"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 50051
)

// Options tunes defaults that apply when neither tab nor environment sets a value.
type Options struct {
	DefaultHost string
	DefaultPort int
}

func (o Options) withDefaults() Options {
	if o.DefaultHost == "" {
		o.DefaultHost = DefaultHost
	}
	if o.DefaultPort <= 0 {
		o.DefaultPort = DefaultPort
	}
	return o
}

// VariableContext returns the scopes for a tab bound to environmentID.
// An unknown or empty id yields an empty environment scope.
func VariableContext(ws *domain.Workspace, environmentID string) vars.Context {
	if ws == nil {
		return vars.Context{}
	}
	ctx := vars.Context{Global: ws.GlobalVariables}
	if env, ok := ws.Environment(environmentID); ok {
		ctx.Environment = env.Variables
	}
	return ctx
}

// Build merges the tab's selected environment and its overrides.
//
// Precedence: tab host/port over environment over defaults; tab metadata keys
// over environment keys (environment skipped entirely when the tab disables
// it); tab auth when its type is not none, else environment auth; tab TLS
// wholesale over environment TLS.
func Build(tab *domain.RequestTab, ws *domain.Workspace, opts Options) domain.EffectiveCallConfig {
	opts = opts.withDefaults()

	var env *domain.Environment
	if ws != nil {
		env, _ = ws.Environment(tab.SelectedEnvironmentID)
	}
	ctx := VariableContext(ws, tab.SelectedEnvironmentID)

	cfg := domain.EffectiveCallConfig{
		Endpoint:       endpoint(tab, env, opts),
		ManualEndpoint: tab.ManualEndpoint(),
	}

	md, unresolvedMD := vars.ResolveMetadata(mergeMetadata(tab, env), ctx)
	cfg.Metadata = md

	auth, unresolvedAuth := resolveAuth(mergeAuth(tab, env), ctx)
	cfg.Auth = auth

	cfg.TLS = mergeTLS(tab, env)
	cfg.Unresolved = vars.MergeUnresolved(unresolvedMD, unresolvedAuth)
	return cfg
}

func endpoint(tab *domain.RequestTab, env *domain.Environment, opts Options) domain.Endpoint {
	ep := domain.Endpoint{Host: opts.DefaultHost, Port: opts.DefaultPort}
	if env != nil {
		if env.Host != "" {
			ep.Host = env.Host
		}
		if env.Port > 0 {
			ep.Port = env.Port
		}
	}
	if tab.RequestHost != nil {
		ep.Host = *tab.RequestHost
	}
	if tab.RequestPort != nil {
		ep.Port = *tab.RequestPort
	}
	return ep
}

func mergeMetadata(tab *domain.RequestTab, env *domain.Environment) map[string]string {
	out := map[string]string{}
	if env != nil && !tab.DisableEnvironmentMetadata {
		for k, v := range env.Metadata {
			out[k] = v
		}
	}
	for k, v := range tab.Metadata {
		out[k] = v
	}
	return out
}

// mergeAuth is all-or-nothing: a tab either supplies the whole auth config or none of it.
func mergeAuth(tab *domain.RequestTab, env *domain.Environment) domain.AuthConfig {
	if !tab.Auth.IsNone() {
		return tab.Auth.Clone()
	}
	if env != nil && !env.Auth.IsNone() {
		return env.Auth.Clone()
	}
	return domain.NoAuth()
}

func mergeTLS(tab *domain.RequestTab, env *domain.Environment) domain.TLSConfig {
	if tab.TLS != nil {
		return *tab.TLS
	}
	if env != nil && env.TLS != nil {
		return *env.TLS
	}
	return domain.TLSConfig{Enabled: false}
}

func resolveAuth(auth domain.AuthConfig, ctx vars.Context) (domain.AuthConfig, []domain.UnresolvedVariable) {
	var lists [][]domain.UnresolvedVariable
	resolve := func(s *string) {
		r := vars.Resolve(*s, ctx)
		*s = r.Resolved
		lists = append(lists, r.Unresolved)
	}

	switch {
	case auth.Bearer != nil:
		resolve(&auth.Bearer.Token)
	case auth.Basic != nil:
		resolve(&auth.Basic.Username)
		resolve(&auth.Basic.Password)
	case auth.APIKey != nil:
		resolve(&auth.APIKey.Value)
	}
	return auth, vars.MergeUnresolved(lists...)
}
