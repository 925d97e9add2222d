package crawler

import (
	"strings"

	"github.com/gobwas/glob"
)

// FilterChain decides URL admissibility. Filters evaluate left to right with
// AND semantics and short-circuit on the first rejection. The chain is pure
// and safe for concurrent use once built.
type FilterChain struct {
	domains      *domainFilter
	patterns     *patternFilter
	contentTypes *contentTypeFilter
}

// NewFilterChain compiles spec into a chain. A malformed glob pattern is a
// ConfigError.
func NewFilterChain(spec FilterSpec) (*FilterChain, error) {
	patterns, err := newPatternFilter(spec.URLPatterns)
	if err != nil {
		return nil, err
	}
	return &FilterChain{
		domains:      newDomainFilter(spec.AllowedDomains),
		patterns:     patterns,
		contentTypes: newContentTypeFilter(spec.AllowedContentTypes),
	}, nil
}

// AdmitURL runs the pre-fetch filters (domain, pattern) against a candidate.
// Content type is unknown before fetch, so that filter does not run here.
func (c *FilterChain) AdmitURL(rawURL string) bool {
	if !c.domains.admit(rawURL) {
		return false
	}
	return c.patterns.admit(rawURL)
}

// AdmitContentType runs the post-fetch content-type filter. An empty content
// type passes; the filter only applies when metadata is available.
func (c *FilterChain) AdmitContentType(contentType string) bool {
	return c.contentTypes.admit(contentType)
}

// domainFilter passes hosts equal to, or subdomains of, an allowed domain.
type domainFilter struct {
	allowed []string
}

func newDomainFilter(domains []string) *domainFilter {
	f := &domainFilter{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			f.allowed = append(f.allowed, d)
		}
	}
	return f
}

func (f *domainFilter) admit(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, d := range f.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// patternFilter passes URLs matching at least one glob. An empty pattern
// list matches everything. Matching is case-sensitive and anchored against
// the full URL string; `*` crosses path separators.
type patternFilter struct {
	globs []glob.Glob
}

func newPatternFilter(patterns []string) (*patternFilter, error) {
	f := &patternFilter{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, configErrorf("url_patterns", "compile glob %q: %v", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

func (f *patternFilter) admit(rawURL string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(rawURL) {
			return true
		}
	}
	return false
}

// contentTypeFilter passes responses whose primary media type is allowed,
// ignoring parameters such as charset.
type contentTypeFilter struct {
	allowed map[string]struct{}
}

func newContentTypeFilter(types []string) *contentTypeFilter {
	f := &contentTypeFilter{allowed: make(map[string]struct{})}
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.allowed[t] = struct{}{}
		}
	}
	return f
}

func (f *contentTypeFilter) admit(contentType string) bool {
	if len(f.allowed) == 0 || contentType == "" {
		return true
	}
	primary := contentType
	if idx := strings.Index(primary, ";"); idx >= 0 {
		primary = primary[:idx]
	}
	primary = strings.ToLower(strings.TrimSpace(primary))
	_, ok := f.allowed[primary]
	return ok
}
