// Package endpoint holds the ordered list of regional search hosts and builds
// search URLs against the current one.
package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

// ErrExhausted is returned by Rotate once the last variant has been used.
var ErrExhausted = errors.New("endpoint variants exhausted")

// DefaultVariants are tried in order on rate limiting.
var DefaultVariants = []string{
	"https://scholar.google.com",
	"https://scholar.google.co.kr",
	"https://scholar.google.co.uk",
	"https://scholar.google.ca",
}

// Rotator owns the current endpoint. Rotation is sticky: every query after a
// Rotate uses the new variant.
type Rotator struct {
	variants []string
	idx      int
}

// NewRotator validates the variants and starts at the first one.
func NewRotator(variants []string) (*Rotator, error) {
	if len(variants) == 0 {
		return nil, errors.New("endpoint: at least one variant is required")
	}
	clean := make([]string, len(variants))
	for i, v := range variants {
		u, err := url.Parse(strings.TrimSpace(v))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("endpoint: invalid variant %q", v)
		}
		clean[i] = strings.TrimRight(u.String(), "/")
	}
	return &Rotator{variants: clean}, nil
}

// Current returns the endpoint in use.
func (r *Rotator) Current() string {
	return r.variants[r.idx]
}

// Index reports the position of the current variant.
func (r *Rotator) Index() int {
	return r.idx
}

// Rotate advances to the next variant. Past the last one it returns
// ErrExhausted and leaves the current endpoint unchanged.
func (r *Rotator) Rotate() (string, error) {
	if r.idx+1 >= len(r.variants) {
		return "", fmt.Errorf("%w after %s", ErrExhausted, r.variants[r.idx])
	}
	r.idx++
	return r.variants[r.idx], nil
}

// Template renders search URLs as <endpoint><Path>?<Params>&<QueryParam>=<text>.
type Template struct {
	Path       string            `mapstructure:"search_path"`
	QueryParam string            `mapstructure:"query_param"`
	Params     map[string]string `mapstructure:"params"`
}

// DefaultTemplate targets the Scholar search page with one result per page.
func DefaultTemplate() Template {
	return Template{
		Path:       "/scholar",
		QueryParam: "q",
		Params: map[string]string{
			"hl":     "en",
			"as_sdt": "0,5",
			"num":    "1",
		},
	}
}

// SearchURL implements retrieval.URLBuilder. Parameters are encoded in key
// order so identical queries always yield identical URLs.
func (t Template) SearchURL(endpoint string, query retrieval.Query) string {
	values := url.Values{}
	for k, v := range t.Params {
		values.Set(k, v)
	}
	param := t.QueryParam
	if param == "" {
		param = "q"
	}
	values.Set(param, query.Text)
	path := t.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(endpoint, "/") + path + "?" + values.Encode()
}
