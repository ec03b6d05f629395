// Package vars resolves {{namespace.key}} placeholders against the
// environment and global variable scopes.
package vars

import (
	"maps"
	"regexp"
	"slices"

	"github.com/shhac/grpcdesk/internal/domain"
)

// SecretMask replaces secret values in Available listings.
const SecretMask = "********"

var placeholderPattern = regexp.MustCompile(`\{\{(env|global)\.([A-Za-z0-9_]+)\}\}`)

// Context is the two-tier scope consulted during resolution.
type Context struct {
	Environment []domain.Variable
	Global      []domain.Variable
}

// Result is the outcome of resolving one string.
type Result struct {
	Resolved   string
	Unresolved []domain.UnresolvedVariable
}

// Resolve substitutes every placeholder in source. Substitution is a single
// pass: values containing placeholder syntax are inserted verbatim.
// Unresolved placeholders stay in place and are reported once each.
func Resolve(source string, ctx Context) Result {
	var unresolved []domain.UnresolvedVariable
	seen := map[string]bool{}

	resolved := placeholderPattern.ReplaceAllStringFunc(source, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		ns := domain.VariableNamespace(sub[1])
		if value, ok := ctx.lookup(ns, sub[2]); ok {
			return value
		}
		if !seen[match] {
			seen[match] = true
			unresolved = append(unresolved, domain.UnresolvedVariable{
				Namespace:   ns,
				Key:         sub[2],
				Placeholder: match,
			})
		}
		return match
	})

	return Result{Resolved: resolved, Unresolved: unresolved}
}

// ResolveMetadata resolves each value independently. The unresolved list is
// de-duplicated by placeholder text across all keys.
func ResolveMetadata(md map[string]string, ctx Context) (map[string]string, []domain.UnresolvedVariable) {
	out := make(map[string]string, len(md))
	var lists [][]domain.UnresolvedVariable
	for _, key := range slices.Sorted(maps.Keys(md)) {
		r := Resolve(md[key], ctx)
		out[key] = r.Resolved
		lists = append(lists, r.Unresolved)
	}
	return out, MergeUnresolved(lists...)
}

// MergeUnresolved concatenates lists, keeping the first entry per placeholder.
func MergeUnresolved(lists ...[]domain.UnresolvedVariable) []domain.UnresolvedVariable {
	var out []domain.UnresolvedVariable
	seen := map[string]bool{}
	for _, list := range lists {
		for _, u := range list {
			if seen[u.Placeholder] {
				continue
			}
			seen[u.Placeholder] = true
			out = append(out, u)
		}
	}
	return out
}

// Available lists enabled variables of both scopes, environment first.
// Secret values are masked.
func Available(ctx Context) []domain.AvailableVariable {
	var out []domain.AvailableVariable
	add := func(ns domain.VariableNamespace, list []domain.Variable) {
		for _, v := range list {
			if !v.Enabled {
				continue
			}
			value := v.Value
			if v.Secret {
				value = SecretMask
			}
			out = append(out, domain.AvailableVariable{
				Namespace:   ns,
				Key:         v.Key,
				Value:       value,
				Secret:      v.Secret,
				Placeholder: Placeholder(ns, v.Key),
			})
		}
	}
	add(domain.NamespaceEnv, ctx.Environment)
	add(domain.NamespaceGlobal, ctx.Global)
	return out
}

// Placeholders returns the distinct placeholders of source in order of first
// appearance, regardless of whether they resolve.
func Placeholders(source string) []domain.UnresolvedVariable {
	var out []domain.UnresolvedVariable
	seen := map[string]bool{}
	for _, sub := range placeholderPattern.FindAllStringSubmatch(source, -1) {
		if seen[sub[0]] {
			continue
		}
		seen[sub[0]] = true
		out = append(out, domain.UnresolvedVariable{
			Namespace:   domain.VariableNamespace(sub[1]),
			Key:         sub[2],
			Placeholder: sub[0],
		})
	}
	return out
}

// Placeholder renders the placeholder text for a namespace and key.
func Placeholder(ns domain.VariableNamespace, key string) string {
	return "{{" + string(ns) + "." + key + "}}"
}

// lookup returns the first enabled variable with key in the namespace's scope.
func (c Context) lookup(ns domain.VariableNamespace, key string) (string, bool) {
	scope := c.Environment
	if ns == domain.NamespaceGlobal {
		scope = c.Global
	}
	for _, v := range scope {
		if v.Enabled && v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}
