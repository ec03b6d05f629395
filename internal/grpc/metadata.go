package grpc

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/errors"
	"google.golang.org/grpc/metadata"
)

var reservedMetaKeys = map[string]struct{}{
	"content-type":      {},
	"user-agent":        {},
	"te":                {},
	"authority":         {},
	"host":              {},
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"transfer-encoding": {},
	"upgrade":           {},
}

// OutgoingMetadata builds the request metadata for a call: the user entries
// followed by whatever the auth setting contributes. Keys are lower-cased;
// invalid or transport-reserved keys are rejected.
func OutgoingMetadata(entries map[string]string, auth domain.AuthConfig) (metadata.MD, error) {
	md := metadata.MD{}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, raw := range keys {
		key, err := normalizeMetaKey(raw)
		if err != nil {
			return nil, err
		}
		md.Append(key, entries[raw])
	}

	switch auth.Kind() {
	case domain.AuthBearer:
		if auth.Bearer != nil && auth.Bearer.Token != "" {
			md.Set("authorization", "Bearer "+auth.Bearer.Token)
		}
	case domain.AuthBasic:
		if auth.Basic != nil {
			creds := auth.Basic.Username + ":" + auth.Basic.Password
			md.Set("authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
		}
	case domain.AuthAPIKey:
		if auth.APIKey != nil && auth.APIKey.Key != "" {
			key, err := normalizeMetaKey(auth.APIKey.Key)
			if err != nil {
				return nil, err
			}
			md.Set(key, auth.APIKey.Value)
		}
	}

	return md, nil
}

func normalizeMetaKey(raw string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", errors.ValidationError{Field: "metadata", Message: "metadata key is empty"}
	}
	for _, r := range key {
		if !validMetaKeyChar(r) {
			return "", errors.ValidationError{
				Field:   "metadata",
				Message: fmt.Sprintf("metadata key %q contains invalid character %q", raw, r),
			}
		}
	}
	if isReservedMetaKey(key) {
		return "", errors.ValidationError{
			Field:   "metadata",
			Message: fmt.Sprintf("metadata key %q is reserved", raw),
		}
	}
	return key, nil
}

func validMetaKeyChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	}
	return false
}

func isReservedMetaKey(key string) bool {
	if strings.HasPrefix(key, "grpc-") || strings.HasPrefix(key, ":") {
		return true
	}
	_, ok := reservedMetaKeys[key]
	return ok
}

// flattenMD joins repeated values so headers fit a string map.
func flattenMD(md metadata.MD) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
