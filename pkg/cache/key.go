package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every page cache entry in Redis.
const KeyPrefix = "etl:page"

// PageKey identifies one cached page response.
type PageKey struct {
	// URL is the absolute page URL.
	URL string
}

// String generates a deterministic cache key string. Query parameters are
// sorted so that equivalent URLs share an entry.
// Format: etl:page:host/path:param1=val1:param2=val2
//
// Example:
//
//	etl:page:data.example/api/v1/items/2020:page=2
func (k PageKey) String() string {
	u, err := url.Parse(k.URL)
	if err != nil || u.Host == "" {
		return KeyPrefix + ":" + k.URL
	}

	parts := []string{KeyPrefix, strings.ToLower(u.Host) + "/" + strings.Trim(u.Path, "/")}

	query := u.Query()
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			values := append([]string(nil), query[key]...)
			sort.Strings(values)
			parts = append(parts, key+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(parts, ":")
}
