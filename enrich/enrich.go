// Package enrich adds network-derived features (DNS records and domain
// registration age) to the lexical feature set. Every lookup is best effort:
// a failure yields -1 for the affected features.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	whois "github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/docutag/phishguard/features"
	"github.com/docutag/phishguard/metrics"
)

// Feature names set by Enrich.
const (
	FeatureIPResolved     = "qty_ip_resolved"
	FeatureTTLHostname    = "ttl_hostname"
	FeatureNameservers    = "qty_nameservers"
	FeatureMXServers      = "qty_mx_servers"
	FeatureSPF            = "domain_spf"
	FeatureActivationDays = "time_domain_activation"
	FeatureExpirationDays = "time_domain_expiration"
)

const (
	DefaultDNSServer = "1.1.1.1:53"
	DefaultTimeout   = 3 * time.Second

	unknown = -1
)

var errNoAnswer = errors.New("no answer")

// Exchanger sends one DNS query. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Registration holds the dates parsed from a whois record.
type Registration struct {
	Created time.Time
	Expires time.Time
}

// WhoisFunc looks up registration dates for a registrable domain.
type WhoisFunc func(ctx context.Context, domain string) (Registration, error)

// Options configures an Enricher.
type Options struct {
	DNSServer string
	Timeout   time.Duration
	Exchanger Exchanger
	Whois     WhoisFunc
	Now       func() time.Time
	Logger    *slog.Logger
}

// Enricher performs the network lookups for one URL at a time.
type Enricher struct {
	exchanger Exchanger
	server    string
	timeout   time.Duration
	whois     WhoisFunc
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an Enricher, filling unset options with defaults.
func New(opts Options) *Enricher {
	if opts.DNSServer == "" {
		opts.DNSServer = DefaultDNSServer
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Exchanger == nil {
		opts.Exchanger = &dns.Client{Net: "udp", Timeout: opts.Timeout}
	}
	if opts.Whois == nil {
		opts.Whois = LookupWhois(opts.Timeout)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Enricher{
		exchanger: opts.Exchanger,
		server:    opts.DNSServer,
		timeout:   opts.Timeout,
		whois:     opts.Whois,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

// Enrich adds the network features for rawURL to f. The A lookup uses the
// full hostname; NS, MX, TXT and whois use the registrable domain. Lookups
// run concurrently and never return an error.
func (e *Enricher) Enrich(ctx context.Context, rawURL string, f features.Features) {
	for _, k := range []string{FeatureIPResolved, FeatureTTLHostname, FeatureNameservers, FeatureMXServers, FeatureSPF, FeatureActivationDays, FeatureExpirationDays} {
		f[k] = unknown
	}

	parts := features.Split(rawURL)
	host, domain := strings.ToLower(parts.Domain), parts.Registered
	if domain == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		ips, ttl, ns, mx, spf float64 = unknown, unknown, unknown, unknown, unknown
		activation, expiry    float64 = unknown, unknown
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		answers, err := e.query(gctx, host, dns.TypeA)
		if err != nil {
			e.degraded("A", host, err)
			return nil
		}
		ips = float64(len(answers))
		ttl = float64(answers[0].Header().Ttl)
		return nil
	})
	g.Go(func() error {
		answers, err := e.query(gctx, domain, dns.TypeNS)
		if err != nil {
			e.degraded("NS", domain, err)
			return nil
		}
		ns = float64(len(answers))
		return nil
	})
	g.Go(func() error {
		answers, err := e.query(gctx, domain, dns.TypeMX)
		if err != nil {
			e.degraded("MX", domain, err)
			return nil
		}
		mx = float64(len(answers))
		return nil
	})
	g.Go(func() error {
		answers, err := e.query(gctx, domain, dns.TypeTXT)
		if err != nil {
			e.degraded("TXT", domain, err)
			return nil
		}
		spf = 0
		for _, rr := range answers {
			if strings.Contains(strings.Join(rr.(*dns.TXT).Txt, ""), "v=spf1") {
				spf = 1
				break
			}
		}
		return nil
	})
	g.Go(func() error {
		reg, err := e.whois(gctx, domain)
		if err != nil {
			e.degraded("whois", domain, err)
			return nil
		}
		now := e.now()
		if !reg.Created.IsZero() {
			activation = float64(int(now.Sub(reg.Created).Hours() / 24))
		}
		if !reg.Expires.IsZero() {
			expiry = float64(int(reg.Expires.Sub(now).Hours() / 24))
		}
		return nil
	})
	_ = g.Wait()

	f[FeatureIPResolved] = ips
	f[FeatureTTLHostname] = ttl
	f[FeatureNameservers] = ns
	f[FeatureMXServers] = mx
	f[FeatureSPF] = spf
	f[FeatureActivationDays] = activation
	f[FeatureExpirationDays] = expiry
}

// query returns the answer records of type qtype, or an error when there
// are none.
func (e *Enricher) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	resp, _, err := e.exchanger.ExchangeContext(ctx, m, e.server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
	}

	var out []dns.RR
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype == qtype {
			out = append(out, rr)
		}
	}
	if len(out) == 0 {
		return nil, errNoAnswer
	}
	return out, nil
}

func (e *Enricher) degraded(lookup, domain string, err error) {
	metrics.Degradations.WithLabelValues("enrich_" + strings.ToLower(lookup)).Inc()
	e.logger.Debug("enrichment lookup failed", "lookup", lookup, "domain", domain, "error", err)
}

var whoisLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"2006/01/02",
}

// LookupWhois returns a WhoisFunc backed by the public whois servers.
func LookupWhois(timeout time.Duration) WhoisFunc {
	client := whois.NewClient().SetTimeout(timeout)
	return func(ctx context.Context, domain string) (Registration, error) {
		type result struct {
			raw string
			err error
		}
		ch := make(chan result, 1)
		go func() {
			raw, err := client.Whois(domain)
			ch <- result{raw, err}
		}()

		var res result
		select {
		case <-ctx.Done():
			return Registration{}, ctx.Err()
		case res = <-ch:
		}
		if res.err != nil {
			return Registration{}, res.err
		}

		info, err := whoisparser.Parse(res.raw)
		if err != nil {
			return Registration{}, err
		}
		if info.Domain == nil {
			return Registration{}, fmt.Errorf("whois record for %s has no domain section", domain)
		}
		return Registration{
			Created: ParseWhoisDate(info.Domain.CreatedDate),
			Expires: ParseWhoisDate(info.Domain.ExpirationDate),
		}, nil
	}
}

// ParseWhoisDate parses the date formats registrars commonly use. It
// returns the zero time when none match.
func ParseWhoisDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range whoisLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
