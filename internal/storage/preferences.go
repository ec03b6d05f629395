package storage

import (
	"encoding/base64"
	"sort"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
)

// keyIndex is the preference holding the list of stored keys, since
// fyne.Preferences cannot enumerate its contents.
const keyIndex = "grpcdesk.keys"

// PreferencesKV implements KV on top of a Fyne application's preferences.
// Values are base64 encoded so arbitrary bytes survive the string store.
type PreferencesKV struct {
	prefs fyne.Preferences
	mu    sync.Mutex
}

// NewPreferencesKV wraps prefs, typically fyne.App.Preferences().
func NewPreferencesKV(prefs fyne.Preferences) *PreferencesKV {
	return &PreferencesKV{prefs: prefs}
}

func (p *PreferencesKV) Get(key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasKey(key) {
		return nil, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(p.prefs.String(prefKey(key)))
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (p *PreferencesKV) Set(key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prefs.SetString(prefKey(key), base64.StdEncoding.EncodeToString(data))
	if !p.hasKey(key) {
		keys := append(p.prefs.StringList(keyIndex), key)
		sort.Strings(keys)
		p.prefs.SetStringList(keyIndex, keys)
	}
	return nil
}

func (p *PreferencesKV) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prefs.RemoveValue(prefKey(key))
	var keys []string
	for _, k := range p.prefs.StringList(keyIndex) {
		if k != key {
			keys = append(keys, k)
		}
	}
	p.prefs.SetStringList(keyIndex, keys)
	return nil
}

func (p *PreferencesKV) Keys(prefix string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var keys []string
	for _, k := range p.prefs.StringList(keyIndex) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (p *PreferencesKV) hasKey(key string) bool {
	for _, k := range p.prefs.StringList(keyIndex) {
		if k == key {
			return true
		}
	}
	return false
}

func prefKey(key string) string {
	return "grpcdesk.kv." + key
}
