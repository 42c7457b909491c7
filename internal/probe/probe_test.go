package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a tiny authoritative server for sasm.uclllabs.be and the
// IPv4 reverse zone on a random local port.
func startServer(t *testing.T) string {
	t.Helper()

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]

		switch {
		case q.Name == "jan-peeters.sasm.uclllabs.be." && q.Qtype == dns.TypeNS:
			for _, target := range []string{"ns1.uclllabs.be.", "ns2.uclllabs.be.", "ns.jan-peeters.sasm.uclllabs.be."} {
				rr, _ := dns.NewRR("jan-peeters.sasm.uclllabs.be. 3600 IN NS " + target)
				m.Ns = append(m.Ns, rr)
			}
			glue, _ := dns.NewRR("ns.jan-peeters.sasm.uclllabs.be. 3600 IN A 193.191.176.5")
			m.Extra = append(m.Extra, glue)
		case q.Name == "sasm.uclllabs.be." && q.Qtype == dns.TypeNS:
			m.Authoritative = true
			rr, _ := dns.NewRR("sasm.uclllabs.be. 3600 IN NS ns1.uclllabs.be.")
			m.Answer = append(m.Answer, rr)
		case q.Name == "5.176.191.193.in-addr.arpa." && q.Qtype == dns.TypePTR:
			m.Authoritative = true
			rr, _ := dns.NewRR("5.176.191.193.in-addr.arpa. 3600 IN PTR MX.Jan-Peeters.sasm.uclllabs.be.")
			m.Answer = append(m.Answer, rr)
		case q.Name == "broken.sasm.uclllabs.be.":
			m.Rcode = dns.RcodeServerFailure
		default:
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("DNS server did not start")
	}
	return pc.LocalAddr().String()
}

func TestProber_NSReferral(t *testing.T) {
	p := New(startServer(t), time.Second)

	targets, err := p.NS(context.Background(), "jan-peeters.sasm.uclllabs.be")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns1.uclllabs.be.", "ns2.uclllabs.be.", "ns.jan-peeters.sasm.uclllabs.be."}, targets)
}

func TestProber_NSAnswer(t *testing.T) {
	p := New(startServer(t), time.Second)

	targets, err := p.NS(context.Background(), "sasm.uclllabs.be.")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns1.uclllabs.be."}, targets)
}

func TestProber_PTR(t *testing.T) {
	p := New(startServer(t), time.Second)

	targets, err := p.PTR(context.Background(), "5.176.191.193.in-addr.arpa")
	require.NoError(t, err)
	assert.Equal(t, []string{"mx.jan-peeters.sasm.uclllabs.be."}, targets)
}

func TestProber_NXDomainIsEmpty(t *testing.T) {
	p := New(startServer(t), time.Second)

	targets, err := p.PTR(context.Background(), "9.176.191.193.in-addr.arpa")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestProber_ServerFailure(t *testing.T) {
	p := New(startServer(t), time.Second)

	_, err := p.NS(context.Background(), "broken.sasm.uclllabs.be")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVFAIL")
}

func TestNew_DefaultPort(t *testing.T) {
	assert.Equal(t, "192.0.2.1:53", New("192.0.2.1", 0).Server())
	assert.Equal(t, "[2001:db8::1]:53", New("2001:db8::1", 0).Server())
	assert.Equal(t, "ns1.uclllabs.be:5353", New("ns1.uclllabs.be:5353", 0).Server())
}
