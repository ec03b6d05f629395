package domain

import "fmt"

// AuthType discriminates AuthConfig.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "apiKey"
)

// AuthConfig is a kind-tagged authentication setting. Only the payload that
// matches Type may be set; use the constructors or WithType to build one.
type AuthConfig struct {
	Type   AuthType    `json:"type"`
	Bearer *BearerAuth `json:"bearer,omitempty"`
	Basic  *BasicAuth  `json:"basic,omitempty"`
	APIKey *APIKeyAuth `json:"apiKey,omitempty"`
}

type BearerAuth struct {
	Token string `json:"token"`
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// APIKeyAuth sends Value under the metadata key Key.
type APIKeyAuth struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NoAuth() AuthConfig {
	return AuthConfig{Type: AuthNone}
}

func BearerToken(token string) AuthConfig {
	return AuthConfig{Type: AuthBearer, Bearer: &BearerAuth{Token: token}}
}

func Basic(username, password string) AuthConfig {
	return AuthConfig{Type: AuthBasic, Basic: &BasicAuth{Username: username, Password: password}}
}

func APIKey(key, value string) AuthConfig {
	return AuthConfig{Type: AuthAPIKey, APIKey: &APIKeyAuth{Key: key, Value: value}}
}

// Kind returns the auth type, treating the zero value as AuthNone.
func (a AuthConfig) Kind() AuthType {
	if a.Type == "" {
		return AuthNone
	}
	return a.Type
}

// IsNone reports whether the config carries no credentials.
func (a AuthConfig) IsNone() bool {
	return a.Kind() == AuthNone
}

// WithType switches the auth kind. Fields belonging to the previous kind are
// discarded; the new payload starts empty.
func (a AuthConfig) WithType(t AuthType) AuthConfig {
	switch t {
	case AuthBearer:
		return BearerToken("")
	case AuthBasic:
		return Basic("", "")
	case AuthAPIKey:
		return APIKey("", "")
	default:
		return NoAuth()
	}
}

// Validate rejects configs whose payload does not match their kind.
func (a AuthConfig) Validate() error {
	set := 0
	if a.Bearer != nil {
		set++
	}
	if a.Basic != nil {
		set++
	}
	if a.APIKey != nil {
		set++
	}

	switch a.Kind() {
	case AuthNone:
		if set != 0 {
			return fmt.Errorf("auth type %q must not carry credentials", AuthNone)
		}
	case AuthBearer:
		if a.Bearer == nil || set != 1 {
			return fmt.Errorf("auth type %q requires only a bearer payload", AuthBearer)
		}
	case AuthBasic:
		if a.Basic == nil || set != 1 {
			return fmt.Errorf("auth type %q requires only a basic payload", AuthBasic)
		}
	case AuthAPIKey:
		if a.APIKey == nil || set != 1 {
			return fmt.Errorf("auth type %q requires only an api key payload", AuthAPIKey)
		}
		if a.APIKey.Key == "" {
			return fmt.Errorf("api key auth requires a metadata key")
		}
	default:
		return fmt.Errorf("unknown auth type %q", a.Type)
	}
	return nil
}

// Clone deep-copies the payload pointers.
func (a AuthConfig) Clone() AuthConfig {
	c := AuthConfig{Type: a.Type}
	if a.Bearer != nil {
		b := *a.Bearer
		c.Bearer = &b
	}
	if a.Basic != nil {
		b := *a.Basic
		c.Basic = &b
	}
	if a.APIKey != nil {
		k := *a.APIKey
		c.APIKey = &k
	}
	return c
}
