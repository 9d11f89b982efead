// Package features derives lexical URL features and lays them out in the
// column order a scaling model expects.
package features

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"
)

// Features maps a feature (column) name to its value.
type Features map[string]float64

// Shorteners is the default set of known URL-shortener registrable domains.
var Shorteners = []string{
	"bit.ly", "tinyurl.com", "t.co", "goo.gl", "ow.ly",
	"is.gd", "cutt.ly", "lnkd.in", "buff.ly",
}

var shortenerSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Shorteners))
	for _, s := range Shorteners {
		m[s] = struct{}{}
	}
	return m
}()

// countedChars pairs each counted character with its column name fragment.
var countedChars = []struct {
	char string
	name string
}{
	{".", "dot"},
	{"-", "hyphen"},
	{"_", "underline"},
	{"/", "slash"},
	{"?", "questionmark"},
	{"=", "equal"},
	{"@", "at"},
	{"&", "and"},
	{"!", "exclamation"},
	{" ", "space"},
	{"~", "tilde"},
	{",", "comma"},
	{"+", "plus"},
	{"*", "asterisk"},
	{"#", "hashtag"},
	{"$", "dollar"},
	{"%", "percent"},
}

var (
	reIPv4  = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
	reEmail = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	// tokens that may carry a hostname inside a query string
	reParamToken = regexp.MustCompile(`[A-Za-z0-9.-]+`)
)

// Parts is the decomposition of a URL used by the extractor.
type Parts struct {
	Domain     string // full hostname without port
	Registered string // registrable domain (eTLD+1), lowercased
	Suffix     string // public suffix, empty when unknown
	Rest       string // everything after the first occurrence of Domain
	Directory  string // Rest before its last '/'
	File       string // Rest after its last '/'
	Params     string // raw query, without '?' and fragment
}

// Split decomposes a URL. It never fails: unparsable input yields empty
// parts and the caller still counts characters on the raw string.
func Split(raw string) Parts {
	var p Parts

	p.Domain = hostname(raw)
	if p.Domain != "" {
		p.Registered, p.Suffix = registered(p.Domain)
		if _, rest, ok := strings.Cut(raw, p.Domain); ok {
			p.Rest = rest
		}
	}

	if i := strings.LastIndex(p.Rest, "/"); i >= 0 {
		p.Directory = p.Rest[:i]
		p.File = p.Rest[i+1:]
	} else {
		p.File = p.Rest
	}

	if _, q, ok := strings.Cut(raw, "?"); ok {
		q, _, _ = strings.Cut(q, "#")
		p.Params = q
	}

	return p
}

// hostname returns the host of a URL without userinfo or port. Scheme-less
// input such as "example.com/path" is accepted.
func hostname(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Hostname(), ".")
}

// registered returns the registrable domain and public suffix of host.
func registered(host string) (string, string) {
	h := strings.ToLower(host)
	if reIPv4.MatchString(h) {
		return "", ""
	}

	suffix, icann := publicsuffix.PublicSuffix(h)
	if !icann && !strings.Contains(suffix, ".") {
		// publicsuffix falls back to the last label for unknown TLDs
		suffix = ""
	}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(h)
	if err != nil {
		return h, suffix
	}
	return etld1, suffix
}

// RegisteredDomain returns the lowercased registrable domain of a URL, or ""
// when it has none.
func RegisteredDomain(raw string) string {
	host := hostname(raw)
	if host == "" {
		return ""
	}
	reg, _ := registered(host)
	return reg
}

// IsShortened reports whether the URL's registrable domain is a known shortener.
func IsShortened(raw string) bool {
	_, ok := shortenerSet[RegisteredDomain(raw)]
	return ok
}

// Extract computes the lexical features of a URL. It is deterministic, has no
// side effects and never fails.
func Extract(raw string) Features {
	p := Split(raw)
	f := make(Features, 112)

	addCounts(f, "url", raw)
	f["length_url"] = length(raw)
	f["qty_tld_url"] = boolToFloat(p.Suffix != "")
	f["url_shortened"] = boolToFloat(isShortener(p.Registered))
	f["email_in_url"] = boolToFloat(reEmail.MatchString(raw))
	f["tls_ssl_certificate"] = boolToFloat(strings.HasPrefix(strings.ToLower(raw), "https"))

	addCounts(f, "domain", p.Domain)
	f["domain_length"] = length(p.Domain)
	f["domain_in_ip"] = boolToFloat(reIPv4.MatchString(p.Domain))
	f["qty_vowels_domain"] = float64(countVowels(p.Domain))
	lowerDomain := strings.ToLower(p.Domain)
	f["server_client_domain"] = boolToFloat(strings.Contains(lowerDomain, "server") || strings.Contains(lowerDomain, "client"))

	addCounts(f, "directory", p.Directory)
	f["directory_length"] = length(p.Directory)

	addCounts(f, "file", p.File)
	f["file_length"] = length(p.File)

	addCounts(f, "params", p.Params)
	f["params_length"] = length(p.Params)
	f["tld_present_params"] = boolToFloat(hasTLD(p.Params))
	if p.Params != "" {
		f["qty_params"] = float64(strings.Count(p.Params, "&") + 1)
	} else {
		f["qty_params"] = 0
	}

	return f
}

func addCounts(f Features, scope, s string) {
	for _, c := range countedChars {
		f["qty_"+c.name+"_"+scope] = float64(strings.Count(s, c.char))
	}
}

func length(s string) float64 {
	return float64(utf8.RuneCountInString(s))
}

func isShortener(registered string) bool {
	_, ok := shortenerSet[registered]
	return ok
}

func countVowels(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
			n++
		}
	}
	return n
}

// hasTLD reports whether any hostname-like token in s ends in a known
// public suffix.
func hasTLD(s string) bool {
	for _, tok := range reParamToken.FindAllString(s, -1) {
		tok = strings.Trim(strings.ToLower(tok), ".-")
		if !strings.Contains(tok, ".") {
			continue
		}
		suffix, icann := publicsuffix.PublicSuffix(tok)
		if icann && suffix != tok {
			return true
		}
	}
	return false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
