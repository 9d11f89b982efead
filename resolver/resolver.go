// Package resolver expands URLs on known shortener domains to their final
// destination, caching results by the original URL.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/yl2chen/cidranger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/docutag/phishguard/features"
	"github.com/docutag/phishguard/metrics"
)

const (
	DefaultCacheSize   = 1024
	DefaultHeadTimeout = 3 * time.Second
	DefaultGetTimeout  = 5 * time.Second

	userAgent   = "phishguard-resolver/1.0"
	maxBodySize = 256 << 10
)

// errNotAttempted marks a resolution that never reached the network.
var errNotAttempted = errors.New("resolution not attempted")

// DefaultBlockedNetworks are never dialed while resolving.
var DefaultBlockedNetworks = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// Options configures a Resolver.
type Options struct {
	CacheSize         int
	RequestsPerSecond float64 // <= 0 disables rate limiting
	HeadTimeout       time.Duration
	GetTimeout        time.Duration

	// IsShortener reports whether a URL should be resolved. Defaults to
	// features.IsShortened.
	IsShortener func(rawURL string) bool

	// BlockedNetworks defaults to DefaultBlockedNetworks.
	BlockedNetworks      []string
	AllowPrivateNetworks bool

	Logger *slog.Logger
}

// Resolver follows redirects for shortened URLs.
type Resolver struct {
	cache       *Cache
	client      *http.Client
	limiter     *rate.Limiter
	group       singleflight.Group
	isShortener func(string) bool
	headTimeout time.Duration
	getTimeout  time.Duration
	logger      *slog.Logger
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.HeadTimeout <= 0 {
		opts.HeadTimeout = DefaultHeadTimeout
	}
	if opts.GetTimeout <= 0 {
		opts.GetTimeout = DefaultGetTimeout
	}
	if opts.IsShortener == nil {
		opts.IsShortener = features.IsShortened
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: opts.GetTimeout}
	if !opts.AllowPrivateNetworks {
		blocked := opts.BlockedNetworks
		if blocked == nil {
			blocked = DefaultBlockedNetworks
		}
		ranger, err := newRanger(blocked)
		if err != nil {
			return nil, err
		}
		dialer.Control = blockDial(ranger)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if b := int(opts.RequestsPerSecond); b > burst {
			burst = b
		}
	}

	return &Resolver{
		cache: NewCache(opts.CacheSize),
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
		limiter:     rate.NewLimiter(limit, burst),
		isShortener: opts.IsShortener,
		headTimeout: opts.HeadTimeout,
		getTimeout:  opts.GetTimeout,
		logger:      opts.Logger,
	}, nil
}

// Cache exposes the resolution cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns the destination of rawURL when it is on a shortener domain
// and enabled is true. Every failure degrades to returning rawURL.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, enabled bool) string {
	if !enabled || rawURL == "" || !r.isShortener(rawURL) {
		return rawURL
	}

	if v, ok := r.cache.Get(rawURL); ok {
		metrics.ShortenerCache.WithLabelValues("hit").Inc()
		return v
	}
	metrics.ShortenerCache.WithLabelValues("miss").Inc()

	v, _, _ := r.group.Do(rawURL, func() (interface{}, error) {
		if v, ok := r.cache.Get(rawURL); ok {
			return v, nil
		}
		resolved, err := r.fetch(ctx, rawURL)
		if err != nil && (ctx.Err() != nil || errors.Is(err, errNotAttempted)) {
			// not a verdict on the URL; it may still resolve next time
			return rawURL, nil
		}
		r.cache.Add(rawURL, resolved)
		metrics.ShortenerCacheSize.Set(float64(r.cache.Len()))
		return resolved, nil
	})
	return v.(string)
}

// fetch tries a HEAD request, then a GET, and returns rawURL with the last
// error when both fail.
func (r *Resolver) fetch(ctx context.Context, rawURL string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		metrics.ShortenerResolutions.WithLabelValues("rate_limited").Inc()
		return rawURL, fmt.Errorf("%w: %v", errNotAttempted, err)
	}

	target := rawURL
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}

	dest, err := r.follow(ctx, http.MethodHead, target, r.headTimeout)
	if err == nil {
		metrics.ShortenerResolutions.WithLabelValues("head").Inc()
		return dest, nil
	}
	r.logger.Debug("shortener HEAD failed, retrying with GET", "url", rawURL, "error", err)

	dest, err = r.follow(ctx, http.MethodGet, target, r.getTimeout)
	if err == nil {
		metrics.ShortenerResolutions.WithLabelValues("get").Inc()
		return dest, nil
	}

	metrics.ShortenerResolutions.WithLabelValues("failed").Inc()
	metrics.Degradations.WithLabelValues("resolver").Inc()
	r.logger.Warn("shortener resolution failed, using original url", "url", rawURL, "error", err)
	return rawURL, err
}

func (r *Resolver) follow(ctx context.Context, method, target string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	final := resp.Request.URL
	if method == http.MethodGet && strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		if dest := metaRefresh(io.LimitReader(resp.Body, maxBodySize), final); dest != "" {
			return dest, nil
		}
	}
	return final.String(), nil
}

// metaRefresh returns the absolute destination of a
// <meta http-equiv="refresh"> tag, or "".
func metaRefresh(body io.Reader, base *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return ""
	}

	var content string
	doc.Find("meta[http-equiv]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return true
		}
		content, _ = s.Attr("content")
		return false
	})

	for _, part := range strings.Split(content, ";") {
		part = strings.TrimSpace(part)
		if len(part) < 4 || !strings.EqualFold(part[:4], "url=") {
			continue
		}
		ref := strings.Trim(strings.TrimSpace(part[4:]), `"'`)
		u, err := base.Parse(ref)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return ""
		}
		return u.String()
	}
	return ""
}

func newRanger(cidrs []string) (cidranger.Ranger, error) {
	ranger := cidranger.NewPCTrieRanger()
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked network %q: %w", cidr, err)
		}
		if err := ranger.Insert(cidranger.NewBasicRangerEntry(*ipNet)); err != nil {
			return nil, fmt.Errorf("failed to add blocked network %q: %w", cidr, err)
		}
	}
	return ranger, nil
}

// blockDial refuses connections to addresses inside ranger. It runs after
// DNS resolution so every dialed address is checked.
func blockDial(ranger cidranger.Ranger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return err
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return fmt.Errorf("refusing to dial non-IP address %q", host)
		}
		blocked, err := ranger.Contains(ip)
		if err != nil {
			return err
		}
		if blocked {
			return fmt.Errorf("refusing to dial blocked address %s", ip)
		}
		return nil
	}
}
