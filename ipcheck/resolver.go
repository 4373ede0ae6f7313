package ipcheck

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/xerrors"
)

// ErrNoAddress is returned when a name resolves but has no A or AAAA records.
var ErrNoAddress = xerrors.New("no address records")

// Resolver turns a host name into IP addresses, IPv4 addresses first.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// SystemResolver resolves through the host's configured resolver.
type SystemResolver struct{}

func (SystemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, ErrNoAddress
	}
	sort.SliceStable(ips, func(i, j int) bool {
		return ips[i].To4() != nil && ips[j].To4() == nil
	})
	return ips, nil
}

// DNSResolver queries a single nameserver directly, asking for A records and falling back to AAAA.
type DNSResolver struct {
	client *dns.Client
	server string
}

// NewDNSResolver returns a resolver that queries server, a host with an optional port (default 53).
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		client: &dns.Client{Net: "udp", Timeout: timeout},
		server: server,
	}
}

func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := r.query(ctx, host, dns.TypeA)
	if err != nil {
		return nil, err
	}
	if len(ips) > 0 {
		return ips, nil
	}

	ips, err = r.query(ctx, host, dns.TypeAAAA)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, xerrors.Errorf("%s: %w", host, ErrNoAddress)
	}
	return ips, nil
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, xerrors.Errorf("query %s %s: %w", dns.TypeToString[qtype], host, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, xerrors.Errorf("query %s %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[in.Rcode])
	}

	var ips []net.IP
	for _, rr := range in.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	return ips, nil
}
