package dnstxt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ErrNoRecords means the name exists with no TXT data or does not exist.
// It is an answer, not a failure.
var ErrNoRecords = errors.New("no TXT records")

// Resolver looks up TXT records. Each returned string is one record with its
// character-strings already concatenated.
type Resolver interface {
	LookupTXT(ctx context.Context, host string) ([]string, error)
}

// SystemResolver uses the host's configured resolver.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (r SystemResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	records, err := res.LookupTXT(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrNoRecords
		}
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// ServerResolver queries one DNS server directly and inspects the response
// code, so NXDOMAIN, empty answers and SERVFAIL are told apart.
type ServerResolver struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// RcodeError is returned for responses other than NOERROR and NXDOMAIN.
type RcodeError struct {
	Rcode int
}

func (e *RcodeError) Error() string {
	return "dns server answered " + dns.RcodeToString[e.Rcode]
}

// NewServerResolver targets host:port. A bare host gets port 53.
func NewServerResolver(server string, timeout time.Duration) *ServerResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ServerResolver{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

func (r *ServerResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeTXT)
	msg.RecursionDesired = true

	in, _, err := r.udp.ExchangeContext(ctx, msg, r.server)
	if err == nil && in.Truncated {
		in, _, err = r.tcp.ExchangeContext(ctx, msg, r.server)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", host, err)
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, ErrNoRecords
	default:
		return nil, &RcodeError{Rcode: in.Rcode}
	}

	var records []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}
