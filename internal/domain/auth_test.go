package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthConfig_WithTypeDiscardsPreviousFields(t *testing.T) {
	bearer := BearerToken("secret")

	basic := bearer.WithType(AuthBasic)
	assert.Equal(t, AuthBasic, basic.Type)
	assert.Nil(t, basic.Bearer)
	require.NotNil(t, basic.Basic)
	assert.Empty(t, basic.Basic.Username)

	back := basic.WithType(AuthBearer)
	require.NotNil(t, back.Bearer)
	assert.Empty(t, back.Bearer.Token, "switching back must not restore the old token")
}

func TestAuthConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
	}{
		{"zero value is none", AuthConfig{}, false},
		{"none", NoAuth(), false},
		{"bearer", BearerToken("t"), false},
		{"basic", Basic("u", "p"), false},
		{"api key", APIKey("x-api-key", "v"), false},
		{"api key without key", APIKey("", "v"), true},
		{"none with payload", AuthConfig{Type: AuthNone, Bearer: &BearerAuth{}}, true},
		{"bearer missing payload", AuthConfig{Type: AuthBearer}, true},
		{"basic with extra payload", AuthConfig{Type: AuthBasic, Basic: &BasicAuth{}, Bearer: &BearerAuth{}}, true},
		{"unknown", AuthConfig{Type: "digest"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.auth.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthConfig_CloneIsDeep(t *testing.T) {
	orig := Basic("alice", "pw")
	c := orig.Clone()
	c.Basic.Password = "changed"
	assert.Equal(t, "pw", orig.Basic.Password)
}

func TestMethod_Shape(t *testing.T) {
	assert.Equal(t, ShapeUnary, Method{}.Shape())
	assert.Equal(t, ShapeServerStream, Method{IsServerStream: true}.Shape())
	assert.Equal(t, ShapeClientStream, Method{IsClientStream: true}.Shape())
	assert.Equal(t, ShapeBidiStream, Method{IsClientStream: true, IsServerStream: true}.Shape())
	assert.True(t, ShapeBidiStream.ClientStreaming())
	assert.True(t, ShapeBidiStream.ServerStreaming())
	assert.False(t, ShapeClientStream.ServerStreaming())
}

func TestRequestTab_CloneIsDeep(t *testing.T) {
	host := "example.com"
	tab := &RequestTab{
		ID:          "t1",
		Metadata:    map[string]string{"a": "1"},
		RequestHost: &host,
		Messages:    []ClientStreamMessage{{ID: "m1", Body: "{}"}},
	}

	c := tab.Clone()
	c.Metadata["a"] = "2"
	*c.RequestHost = "other"
	c.Messages[0].Sent = true

	assert.Equal(t, "1", tab.Metadata["a"])
	assert.Equal(t, "example.com", *tab.RequestHost)
	assert.False(t, tab.Messages[0].Sent)
}

func TestEndpoint_Address(t *testing.T) {
	assert.Equal(t, "localhost:50051", Endpoint{Host: "localhost", Port: 50051}.Address())
	assert.Equal(t, "[::1]:443", Endpoint{Host: "::1", Port: 443}.Address())
}
