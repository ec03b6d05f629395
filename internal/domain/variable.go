package domain

// VariableNamespace names a variable scope as written in placeholders.
type VariableNamespace string

const (
	NamespaceEnv    VariableNamespace = "env"
	NamespaceGlobal VariableNamespace = "global"
)

// Variable is a user-defined key/value pair in an environment or the global scope.
// Keys are not required to be unique; the first enabled match wins during resolution.
type Variable struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
	Secret  bool   `json:"secret,omitempty"`
}

// UnresolvedVariable reports a placeholder that could not be substituted.
type UnresolvedVariable struct {
	Namespace   VariableNamespace `json:"namespace"`
	Key         string            `json:"key"`
	Placeholder string            `json:"placeholder"` // Literal text, e.g. "{{env.token}}"
}

// AvailableVariable is an enabled variable as exposed for inspection and autocomplete.
// Value is masked when Secret is set.
type AvailableVariable struct {
	Namespace   VariableNamespace `json:"namespace"`
	Key         string            `json:"key"`
	Value       string            `json:"value"`
	Secret      bool              `json:"secret,omitempty"`
	Placeholder string            `json:"placeholder"`
}
