package enrich

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/docutag/phishguard/features"
)

// fakeExchanger answers from a table keyed by query type.
type fakeExchanger struct {
	answers map[uint16][]dns.RR
	rcode   int
	err     error

	mu      sync.Mutex
	queried map[uint16]string
}

func (f *fakeExchanger) ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	f.mu.Lock()
	if f.queried == nil {
		f.queried = map[uint16]string{}
	}
	f.queried[m.Question[0].Qtype] = m.Question[0].Name
	f.mu.Unlock()

	if f.err != nil {
		return nil, 0, f.err
	}
	resp := new(dns.Msg)
	resp.SetReply(m)
	resp.Rcode = f.rcode
	resp.Answer = f.answers[m.Question[0].Qtype]
	return resp, time.Millisecond, nil
}

func header(name string, rrtype uint16, ttl uint32) dns.RR_Header {
	return dns.RR_Header{Name: dns.Fqdn(name), Rrtype: rrtype, Class: dns.ClassINET, Ttl: ttl}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnrich(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ex := &fakeExchanger{answers: map[uint16][]dns.RR{
		dns.TypeA: {
			&dns.A{Hdr: header("example.com", dns.TypeA, 300), A: net.ParseIP("93.184.216.34")},
			&dns.A{Hdr: header("example.com", dns.TypeA, 300), A: net.ParseIP("93.184.216.35")},
		},
		dns.TypeNS: {
			&dns.NS{Hdr: header("example.com", dns.TypeNS, 3600), Ns: "a.iana-servers.net."},
		},
		dns.TypeMX: {},
		dns.TypeTXT: {
			&dns.TXT{Hdr: header("example.com", dns.TypeTXT, 60), Txt: []string{"google-site-verification=x"}},
			&dns.TXT{Hdr: header("example.com", dns.TypeTXT, 60), Txt: []string{"v=spf1 -all"}},
		},
	}}

	var whoisDomain string
	e := New(Options{
		Exchanger: ex,
		Whois: func(ctx context.Context, domain string) (Registration, error) {
			whoisDomain = domain
			return Registration{
				Created: now.AddDate(0, 0, -10),
				Expires: now.AddDate(0, 0, 355),
			}, nil
		},
		Now:    func() time.Time { return now },
		Logger: quietLogger(),
	})

	f := features.Features{}
	e.Enrich(context.Background(), "https://login.example.com/path", f)

	want := map[string]float64{
		FeatureIPResolved:     2,
		FeatureTTLHostname:    300,
		FeatureNameservers:    1,
		FeatureMXServers:      -1,
		FeatureSPF:            1,
		FeatureActivationDays: 10,
		FeatureExpirationDays: 355,
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("%s = %v, want %v", k, f[k], v)
		}
	}
	if whoisDomain != "example.com" {
		t.Errorf("whois queried %q, want registrable domain example.com", whoisDomain)
	}

	wantNames := map[uint16]string{
		dns.TypeA:   "login.example.com.",
		dns.TypeNS:  "example.com.",
		dns.TypeMX:  "example.com.",
		dns.TypeTXT: "example.com.",
	}
	for qtype, name := range wantNames {
		if got := ex.queried[qtype]; got != name {
			t.Errorf("%s query name = %q, want %q", dns.TypeToString[qtype], got, name)
		}
	}
}

func TestEnrichFailuresYieldMinusOne(t *testing.T) {
	tests := []struct {
		name string
		ex   *fakeExchanger
		url  string
	}{
		{"transport error", &fakeExchanger{err: errors.New("timeout")}, "https://example.com"},
		{"nxdomain", &fakeExchanger{rcode: dns.RcodeNameError}, "https://example.com"},
		{"ip literal", &fakeExchanger{}, "http://192.168.0.1/login"},
		{"empty", &fakeExchanger{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{
				Exchanger: tt.ex,
				Whois: func(ctx context.Context, domain string) (Registration, error) {
					return Registration{}, errors.New("whois unavailable")
				},
				Logger: quietLogger(),
			})
			f := features.Features{}
			e.Enrich(context.Background(), tt.url, f)

			for _, k := range []string{FeatureIPResolved, FeatureTTLHostname, FeatureNameservers, FeatureMXServers, FeatureSPF, FeatureActivationDays, FeatureExpirationDays} {
				v, ok := f[k]
				if !ok || v != -1 {
					t.Errorf("%s = %v (present %v), want -1", k, v, ok)
				}
			}
		})
	}
}

func TestEnrichSPFAbsent(t *testing.T) {
	ex := &fakeExchanger{answers: map[uint16][]dns.RR{
		dns.TypeTXT: {&dns.TXT{Hdr: header("example.com", dns.TypeTXT, 60), Txt: []string{"hello"}}},
	}}
	e := New(Options{
		Exchanger: ex,
		Whois: func(ctx context.Context, domain string) (Registration, error) {
			return Registration{}, nil
		},
		Logger: quietLogger(),
	})

	f := features.Features{}
	e.Enrich(context.Background(), "https://example.com", f)
	if f[FeatureSPF] != 0 {
		t.Errorf("%s = %v, want 0", FeatureSPF, f[FeatureSPF])
	}
	if f[FeatureActivationDays] != -1 {
		t.Errorf("%s = %v, want -1 for a record without dates", FeatureActivationDays, f[FeatureActivationDays])
	}
}

func TestParseWhoisDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2020-03-04T05:06:07Z", time.Date(2020, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"2020-03-04 05:06:07", time.Date(2020, 3, 4, 5, 6, 7, 0, time.UTC)},
		{" 2020-03-04 ", time.Date(2020, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"04-Mar-2020", time.Date(2020, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"2020.03.04", time.Date(2020, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Time{}},
		{"", time.Time{}},
	}

	for _, tt := range tests {
		if got := ParseWhoisDate(tt.in); !got.Equal(tt.want) {
			t.Errorf("ParseWhoisDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
