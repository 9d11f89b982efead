package features

import (
	"testing"
)

// 17 characters counted over url, domain, directory, file and params, plus the
// scalar features.
const expectedFeatureCount = 17*5 + 14

func TestExtractIPLiteral(t *testing.T) {
	f := Extract("http://192.168.0.1/login")

	checks := map[string]float64{
		"domain_in_ip":        1,
		"qty_dot_url":         3,
		"qty_slash_url":       3,
		"length_url":          24,
		"qty_dot_domain":      3,
		"domain_length":       11,
		"url_shortened":       0,
		"qty_tld_url":         0,
		"directory_length":    0,
		"file_length":         5,
		"qty_slash_file":      0,
		"qty_params":          0,
		"email_in_url":        0,
		"tls_ssl_certificate": 0,
	}
	for name, want := range checks {
		if got := f[name]; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestExtractShortener(t *testing.T) {
	f := Extract("https://bit.ly/fake-login-scam")

	if f["url_shortened"] != 1 {
		t.Errorf("url_shortened = %v, want 1", f["url_shortened"])
	}
	if f["qty_hyphen_file"] != 2 {
		t.Errorf("qty_hyphen_file = %v, want 2", f["qty_hyphen_file"])
	}
	if f["qty_tld_url"] != 1 {
		t.Errorf("qty_tld_url = %v, want 1", f["qty_tld_url"])
	}
	if f["tls_ssl_certificate"] != 1 {
		t.Errorf("tls_ssl_certificate = %v, want 1", f["tls_ssl_certificate"])
	}
	if f["domain_in_ip"] != 0 {
		t.Errorf("domain_in_ip = %v, want 0", f["domain_in_ip"])
	}
}

func TestExtractPathAndParams(t *testing.T) {
	f := Extract("https://www.example.co.uk/a/b/c.php?x=1&y=evil.com#f")

	checks := map[string]float64{
		"qty_slash_directory": 2,
		"directory_length":    4,
		"qty_dot_file":        2,
		"qty_hashtag_file":    1,
		"qty_params":          2,
		"tld_present_params":  1,
		"params_length":       14,
		"qty_and_params":      1,
		"qty_equal_params":    2,
		"qty_dot_domain":      3,
		"qty_vowels_domain":   5,
		"url_shortened":       0,
	}
	for name, want := range checks {
		if got := f[name]; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestExtractServerClientDomain(t *testing.T) {
	f := Extract("http://secure-Server01.example.net/")
	if f["server_client_domain"] != 1 {
		t.Errorf("server_client_domain = %v, want 1", f["server_client_domain"])
	}
	if f["qty_hyphen_domain"] != 1 {
		t.Errorf("qty_hyphen_domain = %v, want 1", f["qty_hyphen_domain"])
	}
}

func TestExtractEmail(t *testing.T) {
	f := Extract("http://example.com/reset?user=victim@example.org")
	if f["email_in_url"] != 1 {
		t.Errorf("email_in_url = %v, want 1", f["email_in_url"])
	}
	if f["qty_at_url"] != 1 {
		t.Errorf("qty_at_url = %v, want 1", f["qty_at_url"])
	}
}

func TestExtractStableKeySet(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"http://[::1/oops",
		"not a url",
		"https://x.com/a?k=v",
		"http://192.168.0.1/login",
	}

	for _, in := range inputs {
		f := Extract(in)
		if len(f) != expectedFeatureCount {
			t.Errorf("Extract(%q) produced %d features, want %d", in, len(f), expectedFeatureCount)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	in := "https://login.paypa1-secure.com/~user/verify!now?session=a%20b&utm_x=1"
	a := Extract(in)
	b := Extract(in)
	for k, v := range a {
		if b[k] != v {
			t.Errorf("feature %s differs between runs: %v vs %v", k, v, b[k])
		}
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		domain    string
		directory string
		file      string
		params    string
	}{
		{
			name:      "full url",
			input:     "https://sub.example.com/dir/page.html?a=1",
			domain:    "sub.example.com",
			directory: "/dir",
			file:      "page.html?a=1",
			params:    "a=1",
		},
		{
			name:      "scheme-less",
			input:     "example.com/path/to",
			domain:    "example.com",
			directory: "/path",
			file:      "to",
		},
		{
			name:   "port kept in rest",
			input:  "http://example.com:8080",
			domain: "example.com",
			file:   ":8080",
		},
		{
			name:  "empty",
			input: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Split(tt.input)
			if p.Domain != tt.domain {
				t.Errorf("Domain = %q, want %q", p.Domain, tt.domain)
			}
			if p.Directory != tt.directory {
				t.Errorf("Directory = %q, want %q", p.Directory, tt.directory)
			}
			if p.File != tt.file {
				t.Errorf("File = %q, want %q", p.File, tt.file)
			}
			if p.Params != tt.params {
				t.Errorf("Params = %q, want %q", p.Params, tt.params)
			}
		})
	}
}

func TestIsShortened(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://bit.ly/abc", true},
		{"https://BIT.LY/abc", true},
		{"http://t.co/xyz", true},
		{"https://www.tinyurl.com/x", true},
		{"https://notbit.ly.example.com/", false},
		{"https://example.com/bit.ly", false},
		{"http://192.168.0.1/", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsShortened(tt.url); got != tt.want {
			t.Errorf("IsShortened(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
