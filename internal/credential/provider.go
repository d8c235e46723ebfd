// Package credential answers whether a usable LLM credential is configured.
package credential

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"
)

// ErrMissing is returned by Current when no valid credential is configured.
var ErrMissing = errors.New("no valid LLM credential configured")

// LookupFunc reads the raw key from wherever it is kept (environment,
// settings backend, Keychain).
type LookupFunc func() (string, error)

const (
	minKeyLen = 8
	cacheTTL  = 30 * time.Second
)

// Provider validates and caches the configured key. Providers that run
// locally need no key and always report a valid credential.
type Provider struct {
	needsKey bool
	lookup   LookupFunc
	now      func() time.Time
	ttl      time.Duration

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
	loaded   bool
}

// New creates a Provider. llmProvider is the configured backend name; the
// "ollama" backend needs no key.
func New(llmProvider string, lookup LookupFunc) *Provider {
	return &Provider{
		needsKey: llmProvider != "ollama",
		lookup:   lookup,
		now:      time.Now,
		ttl:      cacheTTL,
	}
}

// Static returns a Provider with a fixed key (for tests and one-shot CLI use).
func Static(key string) *Provider {
	return New("static", func() (string, error) { return key, nil })
}

// NeedsKey reports whether the backend requires an API key at all.
func (p *Provider) NeedsKey() bool { return p.needsKey }

func (p *Provider) key() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded && p.now().Before(p.cachedAt.Add(p.ttl)) {
		return p.cached
	}
	k, err := p.lookup()
	if err != nil {
		k = ""
	}
	p.cached = strings.TrimSpace(k)
	p.cachedAt = p.now()
	p.loaded = true
	return p.cached
}

// Invalidate forces the next check to re-read the key.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

// HasValidCredential reports whether a key is present and well-formed.
func (p *Provider) HasValidCredential() bool {
	if !p.needsKey {
		return true
	}
	return validKey(p.key())
}

// Current returns the key, or ErrMissing. For keyless backends it returns "".
func (p *Provider) Current() (string, error) {
	if !p.needsKey {
		return "", nil
	}
	k := p.key()
	if !validKey(k) {
		return "", ErrMissing
	}
	return k, nil
}

// validKey is a format check only; it does not contact the provider.
func validKey(k string) bool {
	if len(k) < minKeyLen {
		return false
	}
	for _, r := range k {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
