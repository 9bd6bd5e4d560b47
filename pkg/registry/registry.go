// Package registry maps configured endpoint keys to URL templates and to the
// raw and expanded tables their documents land in.
//
// Table names are derived once, when the registry is built, and never change
// afterwards. Keys are processed in sorted order so that collision suffixes
// are the same on every run. Raw and expanded names share one namespace: an
// expanded table never takes the name of any raw table or of another
// expanded table.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/endpoint-etl/pkg/ident"
)

// YearPlaceholder is replaced by the year in URL templates.
const YearPlaceholder = "{year}"

// Table name limits.
const (
	maxSegments      = 5
	softNameLimit    = 55
	longSegment      = 12
	shortSegment     = 8
	hardNameLimit    = 60
	DefaultNamespace = "etl"

	// DefaultExpandedSuffix is appended to raw table names to name their
	// expanded tables.
	DefaultExpandedSuffix = "expanded"
)

// ErrUnknownEndpoint is returned for keys that are not configured.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// EndpointSpec describes one configured endpoint.
type EndpointSpec struct {
	Key              string
	URLTemplate      string
	DestinationTable ident.Ident
	ExpandedTable    ident.Ident
}

// Options controls table name derivation.
type Options struct {
	// BaseURL is prepended to relative templates.
	BaseURL string

	// Namespace prefixes every derived table name.
	Namespace string

	// Boilerplate lists extra path segments to drop, in addition to "api"
	// and version markers such as "v1".
	Boilerplate []string

	// ExpandedSuffix names expanded tables; empty means DefaultExpandedSuffix.
	ExpandedSuffix string
}

// Registry is an immutable set of endpoint specs.
type Registry struct {
	baseURL string
	specs   map[string]EndpointSpec
	keys    []string
}

// New builds a registry from key -> URL template.
func New(templates map[string]string, opts Options) (*Registry, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.ExpandedSuffix == "" {
		opts.ExpandedSuffix = DefaultExpandedSuffix
	}

	drop := map[string]struct{}{"api": {}}
	for _, s := range opts.Boilerplate {
		drop[strings.ToLower(strings.Trim(s, "/"))] = struct{}{}
	}

	keys := make([]string, 0, len(templates))
	for k := range templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := &Registry{
		baseURL: opts.BaseURL,
		specs:   make(map[string]EndpointSpec, len(keys)),
		keys:    keys,
	}

	used := make(map[ident.Ident]struct{}, len(keys))
	for _, key := range keys {
		tmpl := templates[key]
		if !strings.Contains(tmpl, YearPlaceholder) {
			return nil, fmt.Errorf("endpoint %q: template %q has no %s placeholder", key, tmpl, YearPlaceholder)
		}

		base, err := ident.New(deriveTableName(tmpl, key, opts.Namespace, drop))
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", key, err)
		}

		name := base
		for i := 1; ; i++ {
			if _, taken := used[name]; !taken {
				break
			}
			suffix := "_" + strconv.Itoa(i)
			name = ident.Ident(ident.Truncate(string(base), ident.MaxLength-len(suffix)) + suffix)
		}
		used[name] = struct{}{}

		r.specs[key] = EndpointSpec{Key: key, URLTemplate: tmpl, DestinationTable: name}
	}

	if err := r.allocateExpanded(used, opts.ExpandedSuffix); err != nil {
		return nil, err
	}
	return r, nil
}

// allocateExpanded names the expanded table of every endpoint, avoiding the
// raw tables in used and the expanded names handed out before.
func (r *Registry) allocateExpanded(used map[ident.Ident]struct{}, suffix string) error {
	alloc := ident.NewAllocator("")
	for name := range used {
		alloc.Claim(name.String())
	}
	for _, key := range r.keys {
		spec := r.specs[key]
		base, err := ident.WithSuffix(spec.DestinationTable, suffix)
		if err != nil {
			return fmt.Errorf("endpoint %q: expanded table: %w", key, err)
		}
		spec.ExpandedTable = alloc.Allocate(base.String())
		r.specs[key] = spec
	}
	return nil
}

// deriveTableName turns a template path into a table name.
func deriveTableName(tmpl, key, namespace string, drop map[string]struct{}) string {
	path := tmpl
	if u, err := url.Parse(tmpl); err == nil && u.Host != "" {
		path = u.Path
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	var parts []string
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		low := strings.ToLower(seg)
		if low == "" {
			continue
		}
		if _, ok := drop[low]; ok || versionSegment.MatchString(low) {
			continue
		}
		if strings.HasPrefix(low, "{") && strings.HasSuffix(low, "}") {
			continue
		}
		parts = append(parts, strings.ReplaceAll(low, "-", "_"))
	}
	if len(parts) == 0 {
		parts = []string{ident.Sanitize(key)}
	}
	if len(parts) > maxSegments {
		parts = parts[len(parts)-maxSegments:]
	}

	prefix := namespace + "_"
	candidate := prefix + strings.Join(parts, "_")
	if len(candidate) > softNameLimit {
		short := make([]string, len(parts))
		for i, p := range parts {
			if len(p) > longSegment {
				p = p[:shortSegment]
			}
			short[i] = p
		}
		candidate = prefix + strings.Join(short, "_")
	}
	if len(candidate) > hardNameLimit {
		candidate = candidate[:hardNameLimit]
	}
	return ident.Sanitize(candidate)
}

// Keys returns the configured endpoint keys in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Spec returns the spec for key.
func (r *Registry) Spec(key string) (EndpointSpec, error) {
	spec, ok := r.specs[key]
	if !ok {
		return EndpointSpec{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, key)
	}
	return spec, nil
}

// Specs returns all specs in key order.
func (r *Registry) Specs() []EndpointSpec {
	out := make([]EndpointSpec, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.specs[k])
	}
	return out
}

// Select returns the specs for subset, or all specs when subset is empty.
// Every unknown key is reported in one error.
func (r *Registry) Select(subset []string) ([]EndpointSpec, error) {
	if len(subset) == 0 {
		return r.Specs(), nil
	}

	var missing []string
	seen := make(map[string]struct{}, len(subset))
	var out []EndpointSpec
	for _, k := range subset {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		spec, ok := r.specs[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		out = append(out, spec)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, strings.Join(missing, ", "))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// URL returns the first-page URL of key for year.
func (r *Registry) URL(key string, year int) (string, error) {
	spec, err := r.Spec(key)
	if err != nil {
		return "", err
	}
	return r.resolve(spec.URLTemplate, year), nil
}

func (r *Registry) resolve(tmpl string, year int) string {
	path := strings.ReplaceAll(tmpl, YearPlaceholder, strconv.Itoa(year))
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if r.baseURL == "" {
		return path
	}
	return strings.TrimRight(r.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// BaseURL returns the base URL relative templates and cursors resolve against.
func (r *Registry) BaseURL() string {
	return r.baseURL
}
