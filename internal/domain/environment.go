package domain

// Environment is a named connection target with its own variables and
// default metadata, auth and TLS settings.
type Environment struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Host      string            `json:"host,omitempty"`
	Port      int               `json:"port,omitempty"`
	Variables []Variable        `json:"variables"`
	Auth      AuthConfig        `json:"auth"`
	Metadata  map[string]string `json:"metadata"`
	TLS       *TLSConfig        `json:"tls,omitempty"`
}

// Clone returns a deep copy of the environment.
func (e Environment) Clone() Environment {
	c := e
	c.Variables = append([]Variable(nil), e.Variables...)
	c.Metadata = CloneMetadata(e.Metadata)
	c.Auth = e.Auth.Clone()
	c.TLS = e.TLS.Clone()
	return c
}

// CloneMetadata copies a metadata map. A nil map stays nil.
func CloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
