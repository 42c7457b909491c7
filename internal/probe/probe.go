// Package probe checks delegations and reverse records by querying a live
// nameserver directly.
package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/uclllabs/sasm-dns/internal/arpa"
)

// DefaultTimeout bounds one query.
const DefaultTimeout = 5 * time.Second

// Prober sends non-recursive queries to one server.
type Prober struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// New returns a prober for server ("host" or "host:port", port 53 by default).
func New(server string, timeout time.Duration) *Prober {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// Server returns the address queries are sent to.
func (p *Prober) Server() string {
	return p.server
}

func (p *Prober) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(arpa.Fqdn(name), qtype)
	msg.RecursionDesired = false

	resp, _, err := p.udp.ExchangeContext(ctx, msg, p.server)
	if err == nil && resp.Truncated {
		resp, _, err = p.tcp.ExchangeContext(ctx, msg, p.server)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s %s at %s: %w", name, dns.TypeToString[qtype], p.server, err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return resp, nil
	default:
		return nil, fmt.Errorf("query %s %s at %s: %s", name, dns.TypeToString[qtype], p.server, dns.RcodeToString[resp.Rcode])
	}
}

// NS returns the nameserver targets the server hands out for zone, from the
// answer when it is authoritative or from the referral when it is the parent.
func (p *Prober) NS(ctx context.Context, zone string) ([]string, error) {
	resp, err := p.exchange(ctx, zone, dns.TypeNS)
	if err != nil {
		return nil, err
	}

	owner := arpa.Fqdn(zone)
	var targets []string
	for _, section := range [][]dns.RR{resp.Answer, resp.Ns} {
		for _, rr := range section {
			ns, ok := rr.(*dns.NS)
			if !ok || !arpa.EqualNames(ns.Hdr.Name, owner) {
				continue
			}
			targets = append(targets, arpa.Fqdn(ns.Ns))
		}
	}
	return targets, nil
}

// PTR returns the PTR targets for the reverse name.
func (p *Prober) PTR(ctx context.Context, name string) ([]string, error) {
	resp, err := p.exchange(ctx, name, dns.TypePTR)
	if err != nil {
		return nil, err
	}

	var targets []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			targets = append(targets, arpa.Fqdn(ptr.Ptr))
		}
	}
	return targets, nil
}
