// Package urlnorm strips tracking parameters from URLs before they are scored.
package urlnorm

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// trackingParams are removed regardless of case. Keys starting with utm_ are
// removed as well.
var trackingParams = map[string]struct{}{
	"fbclid": {},
}

// Normalize removes fbclid and utm_* query parameters and returns the
// reassembled URL. Everything other than the query (and a non-NFC host) is
// kept byte for byte so lexical counts are not disturbed by re-escaping.
// If the URL cannot be parsed the input is returned unchanged.
func Normalize(raw string) string {
	if raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	out := raw

	// Host: rewrite decomposed unicode to NFC so equal hosts count equally
	if u.Host != "" {
		if nfc := norm.NFC.String(u.Host); nfc != u.Host {
			if i := strings.Index(out, "//"); i >= 0 {
				out = out[:i] + strings.Replace(out[i:], u.Host, nfc, 1)
			}
		}
	}

	base, fragment, hasFragment := strings.Cut(out, "#")
	prefix, query, hasQuery := strings.Cut(base, "?")
	if !hasQuery {
		return out
	}

	kept := filterQuery(query)
	if kept == query {
		return out
	}

	var b strings.Builder
	b.Grow(len(out))
	b.WriteString(prefix)
	if kept != "" {
		b.WriteByte('?')
		b.WriteString(kept)
	}
	if hasFragment {
		b.WriteByte('#')
		b.WriteString(fragment)
	}
	return b.String()
}

// filterQuery drops tracking pairs from a raw query string, preserving the
// order and original encoding of the pairs that remain. Empty segments are
// dropped only when something else was removed.
func filterQuery(query string) string {
	if query == "" {
		return query
	}

	pairs := strings.Split(query, "&")
	kept := make([]string, 0, len(pairs))
	removed := false
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		if IsTrackingParam(pairKey(pair)) {
			removed = true
			continue
		}
		kept = append(kept, pair)
	}

	if !removed {
		return query
	}
	return strings.Join(kept, "&")
}

func pairKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if unescaped, err := url.QueryUnescape(key); err == nil {
		return unescaped
	}
	return key
}

// IsTrackingParam reports whether a query key is a tracking parameter.
func IsTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}
