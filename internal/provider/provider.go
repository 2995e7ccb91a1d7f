// Package provider turns gateway requests into upstream service URLs.
package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/universal-ai/gateway/internal/config"
)

// MissingParamsError lists required query parameters that were absent
type MissingParamsError struct {
	Endpoint string
	Params   []string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("%s: missing required parameter(s): %s", e.Endpoint, strings.Join(e.Params, ", "))
}

// Registry holds the URL templates of every endpoint
type Registry struct {
	providers map[string]config.ProviderConfig
}

// NewRegistry creates a registry from configuration
func NewRegistry(providers map[string]config.ProviderConfig) *Registry {
	return &Registry{providers: providers}
}

// Has reports whether endpoint is configured
func (r *Registry) Has(endpoint string) bool {
	_, ok := r.providers[endpoint]
	return ok
}

// Validate checks that every required parameter of endpoint is present
func (r *Registry) Validate(endpoint string, params url.Values) error {
	p, ok := r.providers[endpoint]
	if !ok {
		return fmt.Errorf("unknown endpoint %q", endpoint)
	}

	var missing []string
	for _, name := range p.Required {
		if strings.TrimSpace(params.Get(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingParamsError{Endpoint: endpoint, Params: missing}
	}
	return nil
}

// BuildURL fills the endpoint template with escaped request parameters,
// falling back to configured defaults
func (r *Registry) BuildURL(endpoint string, params url.Values) (string, error) {
	if err := r.Validate(endpoint, params); err != nil {
		return "", err
	}
	p := r.providers[endpoint]

	var unresolved []string
	out := config.Placeholder.ReplaceAllStringFunc(p.URL, func(m string) string {
		name := m[1 : len(m)-1]
		value := params.Get(name)
		if value == "" {
			value = p.Defaults[name]
		}
		if value == "" {
			unresolved = append(unresolved, name)
		}
		if isPathSegment(p.URL, m) {
			return url.PathEscape(value)
		}
		return url.QueryEscape(value)
	})
	if len(unresolved) > 0 {
		return "", &MissingParamsError{Endpoint: endpoint, Params: unresolved}
	}
	return out, nil
}

// isPathSegment reports whether the placeholder sits before the query string
func isPathSegment(tmpl, m string) bool {
	q := strings.Index(tmpl, "?")
	return q < 0 || strings.Index(tmpl, m) < q
}
