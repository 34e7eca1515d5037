// Package dnspin resolves the Telegram API host through public nameservers
// and pins HTTP connections to the answer. Some hosting platforms ship
// containers whose resolver cannot see api.telegram.org.
package dnspin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/aiprophet/prophet/internal/backoff"
)

// Mode selects when pinning applies.
type Mode string

const (
	// ModeAuto pins on Linux when running inside a container.
	ModeAuto Mode = "auto"
	// ModeOn pins everywhere except Windows.
	ModeOn Mode = "on"
	// ModeOff never pins.
	ModeOff Mode = "off"
)

// DefaultHost is the host pinned when Config.Host is empty.
const DefaultHost = "api.telegram.org"

// ErrNoAddress is returned when a lookup yields no usable public address.
var ErrNoAddress = errors.New("dnspin: no public address")

// LookupFunc resolves host to addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Config controls the pin.
type Config struct {
	Mode        Mode
	Host        string
	Nameservers []string

	// Timeout bounds one lookup.
	Timeout time.Duration

	// Attempts and RetryDelay drive the retry loop.
	Attempts   int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Pinner resolves the host and builds pinned clients.
type Pinner struct {
	config      Config
	logger      *slog.Logger
	lookup      LookupFunc
	goos        string
	inContainer func() bool
}

// New returns a Pinner using config's nameservers.
func New(config Config) *Pinner {
	if config.Mode == "" {
		config.Mode = ModeAuto
	}
	config.Host = normalizeHostname(config.Host)
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = []string{"8.8.8.8", "1.1.1.1"}
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Attempts <= 0 {
		config.Attempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pinner{
		config:      config,
		logger:      logger.With("component", "dnspin"),
		goos:        runtime.GOOS,
		inContainer: detectContainer,
	}
	p.lookup = p.lookupVia(nameserverResolver(config.Nameservers, config.Timeout))
	return p
}

// Host returns the pinned host name.
func (p *Pinner) Host() string {
	return p.config.Host
}

// Enabled reports whether the pin should be applied on this machine.
func (p *Pinner) Enabled() bool {
	if p.goos == "windows" {
		return false
	}
	switch p.config.Mode {
	case ModeOn:
		return true
	case ModeAuto:
		return p.goos == "linux" && p.inContainer()
	default:
		return false
	}
}

// Resolve looks the host up, retrying with a fixed delay.
func (p *Pinner) Resolve(ctx context.Context) (netip.Addr, error) {
	return backoff.Retry(ctx, backoff.Fixed(p.config.RetryDelay), p.config.Attempts, func(attempt int) (netip.Addr, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		addrs, err := p.lookup(lookupCtx, p.config.Host)
		if err == nil {
			for _, addr := range addrs {
				if isPublicAddress(addr) {
					return addr.Unmap(), nil
				}
			}
			err = fmt.Errorf("%w for %s in %v", ErrNoAddress, p.config.Host, addrs)
		}
		p.logger.Warn("dns attempt failed", "attempt", attempt, "host", p.config.Host, "error", err)
		return netip.Addr{}, err
	})
}

// Apply returns a client pinned to the resolved address. When pinning is
// disabled or resolution fails, base is returned with false.
func (p *Pinner) Apply(ctx context.Context, base *http.Client) (*http.Client, bool) {
	if base == nil {
		base = &http.Client{}
	}
	if !p.Enabled() {
		p.logger.Info("dns pin disabled", "mode", p.config.Mode, "os", p.goos)
		return base, false
	}

	addr, err := p.Resolve(ctx)
	if err != nil {
		p.logger.Error("dns pin failed, using system resolver", "host", p.config.Host, "error", err)
		return base, false
	}
	p.logger.Info("dns pin active", "host", p.config.Host, "address", addr.String())
	return PinnedClient(base, p.config.Host, addr), true
}

// PinnedClient copies base with a transport that dials addr whenever a
// request targets host. The URL keeps the host name so TLS verification
// and SNI are unaffected.
func PinnedClient(base *http.Client, host string, addr netip.Addr) *http.Client {
	var transport *http.Transport
	if t, ok := base.Transport.(*http.Transport); ok && t != nil {
		transport = t.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	next := transport.DialContext
	if next == nil {
		next = dialer.DialContext
	}
	host = normalizeHostname(host)
	transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		h, port, err := net.SplitHostPort(address)
		if err == nil && normalizeHostname(h) == host {
			address = net.JoinHostPort(addr.String(), port)
		}
		return next(ctx, network, address)
	}

	client := *base
	client.Transport = transport
	return &client
}

// nameserverResolver queries the given servers in order over port 53.
func nameserverResolver(nameservers []string, timeout time.Duration) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			var lastErr error
			for _, ns := range nameservers {
				if _, _, err := net.SplitHostPort(ns); err != nil {
					ns = net.JoinHostPort(ns, "53")
				}
				conn, err := d.DialContext(ctx, network, ns)
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		},
	}
}

func (p *Pinner) lookupVia(r *net.Resolver) LookupFunc {
	return func(ctx context.Context, host string) ([]netip.Addr, error) {
		return r.LookupNetIP(ctx, "ip4", host)
	}
}

// detectContainer recognizes Docker, Kubernetes and Hugging Face Spaces.
func detectContainer() bool {
	if os.Getenv("SPACE_ID") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	cgroup := string(data)
	return strings.Contains(cgroup, "docker") || strings.Contains(cgroup, "kubepods") || strings.Contains(cgroup, "containerd")
}
