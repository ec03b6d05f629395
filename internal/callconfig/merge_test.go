package callconfig

import (
	"testing"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkspace() *domain.Workspace {
	ws := domain.NewWorkspace("ws1", "test")
	ws.Environments = []domain.Environment{{
		ID:   "env1",
		Name: "dev",
		Host: "dev.internal",
		Port: 9000,
		Variables: []domain.Variable{
			{ID: "v1", Key: "token", Value: "env-token", Enabled: true},
			{ID: "v2", Key: "tenant", Value: "acme", Enabled: true},
		},
		Auth: domain.BearerToken("{{env.token}}"),
		Metadata: map[string]string{
			"x-tenant":   "{{env.tenant}}",
			"x-shared":   "from-env",
			"x-env-only": "1",
		},
		TLS: &domain.TLSConfig{Enabled: true, ServerCACertPath: "/ca.pem"},
	}}
	ws.GlobalVariables = []domain.Variable{{ID: "g1", Key: "region", Value: "eu", Enabled: true}}
	ws.ActiveEnvironmentID = "env1"
	return ws
}

func TestBuild_Endpoint(t *testing.T) {
	ws := testWorkspace()
	host := "override.local"
	port := 7000

	tests := []struct {
		name       string
		tab        domain.RequestTab
		want       domain.Endpoint
		wantManual bool
	}{
		{"environment", domain.RequestTab{SelectedEnvironmentID: "env1"}, domain.Endpoint{Host: "dev.internal", Port: 9000}, false},
		{"no environment", domain.RequestTab{}, domain.Endpoint{Host: DefaultHost, Port: DefaultPort}, false},
		{"host override", domain.RequestTab{SelectedEnvironmentID: "env1", RequestHost: &host}, domain.Endpoint{Host: host, Port: 9000}, true},
		{"port override", domain.RequestTab{SelectedEnvironmentID: "env1", RequestPort: &port}, domain.Endpoint{Host: "dev.internal", Port: port}, true},
		{"override without environment", domain.RequestTab{RequestPort: &port}, domain.Endpoint{Host: DefaultHost, Port: port}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Build(&tt.tab, ws, Options{})
			assert.Equal(t, tt.want, cfg.Endpoint)
			assert.Equal(t, tt.wantManual, cfg.ManualEndpoint)
		})
	}
}

func TestBuild_DefaultPortOption(t *testing.T) {
	cfg := Build(&domain.RequestTab{}, nil, Options{DefaultPort: 443, DefaultHost: "example.com"})
	assert.Equal(t, domain.Endpoint{Host: "example.com", Port: 443}, cfg.Endpoint)
}

func TestBuild_MetadataTabOverridesEnvironment(t *testing.T) {
	ws := testWorkspace()
	tab := &domain.RequestTab{
		SelectedEnvironmentID: "env1",
		Metadata:              map[string]string{"x-shared": "from-tab", "x-region": "{{global.region}}"},
	}

	cfg := Build(tab, ws, Options{})
	assert.Equal(t, map[string]string{
		"x-tenant":   "acme",
		"x-shared":   "from-tab",
		"x-env-only": "1",
		"x-region":   "eu",
	}, cfg.Metadata)
	assert.Empty(t, cfg.Unresolved)
}

func TestBuild_MetadataDisabledEnvironment(t *testing.T) {
	ws := testWorkspace()

	cfg := Build(&domain.RequestTab{SelectedEnvironmentID: "env1", DisableEnvironmentMetadata: true}, ws, Options{})
	assert.Equal(t, map[string]string{}, cfg.Metadata)

	cfg = Build(&domain.RequestTab{
		SelectedEnvironmentID:      "env1",
		DisableEnvironmentMetadata: true,
		Metadata:                   map[string]string{"x-own": "yes"},
	}, ws, Options{})
	assert.Equal(t, map[string]string{"x-own": "yes"}, cfg.Metadata)
}

func TestBuild_MetadataReportsUnresolved(t *testing.T) {
	ws := testWorkspace()
	tab := &domain.RequestTab{
		SelectedEnvironmentID: "env1",
		Metadata:              map[string]string{"a": "{{env.missing}}", "b": "{{env.missing}}"},
	}

	cfg := Build(tab, ws, Options{})
	assert.Equal(t, "{{env.missing}}", cfg.Metadata["a"])
	require.Len(t, cfg.Unresolved, 1)
	assert.Equal(t, "missing", cfg.Unresolved[0].Key)
}

func TestBuild_AuthFallsBackToEnvironment(t *testing.T) {
	ws := testWorkspace()

	cfg := Build(&domain.RequestTab{SelectedEnvironmentID: "env1", Auth: domain.NoAuth()}, ws, Options{})
	assert.Equal(t, domain.AuthBearer, cfg.Auth.Type)
	require.NotNil(t, cfg.Auth.Bearer)
	assert.Equal(t, "env-token", cfg.Auth.Bearer.Token)

	// The workspace itself is untouched by resolution.
	assert.Equal(t, "{{env.token}}", ws.Environments[0].Auth.Bearer.Token)
}

func TestBuild_TabAuthWinsWholesale(t *testing.T) {
	ws := testWorkspace()
	tabAuth := domain.Basic("alice", "secret")

	cfg := Build(&domain.RequestTab{SelectedEnvironmentID: "env1", Auth: tabAuth}, ws, Options{})
	assert.Equal(t, tabAuth, cfg.Auth)
}

func TestBuild_NoAuthAnywhere(t *testing.T) {
	cfg := Build(&domain.RequestTab{}, domain.NewWorkspace("w", "w"), Options{})
	assert.Equal(t, domain.NoAuth(), cfg.Auth)
}

func TestBuild_TLS(t *testing.T) {
	ws := testWorkspace()

	cfg := Build(&domain.RequestTab{SelectedEnvironmentID: "env1"}, ws, Options{})
	assert.Equal(t, domain.TLSConfig{Enabled: true, ServerCACertPath: "/ca.pem"}, cfg.TLS)

	// Tab TLS replaces the environment's entirely, even when it is only a partial config.
	cfg = Build(&domain.RequestTab{SelectedEnvironmentID: "env1", TLS: &domain.TLSConfig{InsecureSkipVerify: true}}, ws, Options{})
	assert.Equal(t, domain.TLSConfig{InsecureSkipVerify: true}, cfg.TLS)

	cfg = Build(&domain.RequestTab{}, ws, Options{})
	assert.Equal(t, domain.TLSConfig{Enabled: false}, cfg.TLS)
}

func TestVariableContext(t *testing.T) {
	ws := testWorkspace()

	ctx := VariableContext(ws, "env1")
	assert.Len(t, ctx.Environment, 2)
	assert.Len(t, ctx.Global, 1)

	ctx = VariableContext(ws, "unknown")
	assert.Empty(t, ctx.Environment)
	assert.Len(t, ctx.Global, 1)

	assert.Equal(t, 0, len(VariableContext(nil, "env1").Global))
}
