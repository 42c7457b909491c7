package reconcile

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/config"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
	"github.com/uclllabs/sasm-dns/internal/roster"
	"github.com/uclllabs/sasm-dns/internal/rrset"
)

const (
	parentZone = "sasm.uclllabs.be."
	reverse4   = "176.191.193.in-addr.arpa."
	reverse6   = "a.0.8.8.2.8.a.6.0.1.0.0.2.ip6.arpa."
	janPTR6    = "5.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.2.0.a.0.8.8.2.8.a.6.0.1.0.0.2.ip6.arpa."
)

// MockClient is an in-memory PowerDNS that applies patches, so runs can be
// repeated against the state the previous run left.
type MockClient struct {
	zones   map[string]*powerdns.Zone
	calls   []string
	patches map[string][]powerdns.ZonePatch

	listErr   error
	getErr    map[string]error
	createErr map[string]error
	patchErr  map[string]error
	deleteErr map[string]error
}

func NewMockClient() *MockClient {
	return &MockClient{
		zones:     make(map[string]*powerdns.Zone),
		patches:   make(map[string][]powerdns.ZonePatch),
		getErr:    make(map[string]error),
		createErr: make(map[string]error),
		patchErr:  make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

// newLabClient returns a server holding the parent and both reverse zones.
func newLabClient() *MockClient {
	m := NewMockClient()
	m.addZone(parentZone, powerdns.KindNative,
		rs(parentZone, "SOA", "ns1.uclllabs.be. hostmaster.uclllabs.be. 1 10800 3600 604800 3600"),
		rs(parentZone, "NS", "ns1.uclllabs.be.", "ns2.uclllabs.be."),
	)
	m.addZone(reverse4, powerdns.KindNative, rs(reverse4, "SOA", "ns1.uclllabs.be. hostmaster.uclllabs.be. 1 10800 3600 604800 3600"))
	m.addZone(reverse6, powerdns.KindNative, rs(reverse6, "SOA", "ns1.uclllabs.be. hostmaster.uclllabs.be. 1 10800 3600 604800 3600"))
	return m
}

func rs(name, rrType string, contents ...string) powerdns.RRset {
	records := make([]powerdns.Record, 0, len(contents))
	for _, c := range contents {
		records = append(records, powerdns.Record{Content: c})
	}
	return powerdns.RRset{Name: name, Type: rrType, TTL: 3600, Records: records}
}

func (m *MockClient) addZone(name, kind string, rrsets ...powerdns.RRset) {
	m.zones[arpa.Fqdn(name)] = &powerdns.Zone{Name: arpa.Fqdn(name), Kind: kind, RRsets: rrsets}
}

func (m *MockClient) resetCalls() {
	m.calls = nil
	m.patches = make(map[string][]powerdns.ZonePatch)
}

func (m *MockClient) mutations() []string {
	var out []string
	for _, c := range m.calls {
		if len(c) < 4 || c[:4] != "GET " {
			out = append(out, c)
		}
	}
	return out
}

func copyZone(z *powerdns.Zone) *powerdns.Zone {
	c := *z
	c.Masters = append([]string(nil), z.Masters...)
	c.RRsets = make([]powerdns.RRset, len(z.RRsets))
	for i, r := range z.RRsets {
		r.Records = append([]powerdns.Record(nil), r.Records...)
		c.RRsets[i] = r
	}
	return &c
}

func (m *MockClient) ListZones(_ context.Context) ([]powerdns.Zone, error) {
	m.calls = append(m.calls, "GET /zones")
	if m.listErr != nil {
		return nil, m.listErr
	}
	names := make([]string, 0, len(m.zones))
	for name := range m.zones {
		names = append(names, name)
	}
	sort.Strings(names)

	zones := make([]powerdns.Zone, 0, len(names))
	for _, name := range names {
		z := m.zones[name]
		zones = append(zones, powerdns.Zone{Name: z.Name, Kind: z.Kind, Masters: z.Masters})
	}
	return zones, nil
}

func (m *MockClient) GetZone(_ context.Context, name string) (*powerdns.Zone, bool, error) {
	name = arpa.Fqdn(name)
	m.calls = append(m.calls, "GET "+name)
	if err := m.getErr[name]; err != nil {
		return nil, false, err
	}
	z, ok := m.zones[name]
	if !ok {
		return nil, false, nil
	}
	return copyZone(z), true, nil
}

func (m *MockClient) CreateZone(_ context.Context, name, kind string, masters []string) (bool, error) {
	name = arpa.Fqdn(name)
	if err := m.createErr[name]; err != nil {
		return false, err
	}
	if _, ok := m.zones[name]; ok {
		return false, nil
	}
	m.calls = append(m.calls, "POST "+name)
	m.zones[name] = &powerdns.Zone{Name: name, Kind: kind, Masters: append([]string(nil), masters...)}
	return true, nil
}

func (m *MockClient) PatchZone(_ context.Context, name string, rrsets []powerdns.RRset) error {
	name = arpa.Fqdn(name)
	m.calls = append(m.calls, "PATCH "+name)
	if err := m.patchErr[name]; err != nil {
		return err
	}
	z, ok := m.zones[name]
	if !ok {
		return &powerdns.UpstreamError{Method: "PATCH", Path: "/zones/" + name, StatusCode: 404, Message: "Could not find domain"}
	}
	m.patches[name] = append(m.patches[name], powerdns.ZonePatch{RRsets: rrsets})

	for _, change := range rrsets {
		if change.ChangeType == "" {
			return fmt.Errorf("rrset %s %s has no changetype", change.Name, change.Type)
		}
		key := rrset.KeyOf(change.Name, change.Type)
		kept := z.RRsets[:0]
		for _, existing := range z.RRsets {
			if rrset.KeyOf(existing.Name, existing.Type) != key {
				kept = append(kept, existing)
			}
		}
		z.RRsets = kept
		if change.ChangeType == powerdns.ChangeReplace {
			change.ChangeType = ""
			change.Records = append([]powerdns.Record(nil), change.Records...)
			z.RRsets = append(z.RRsets, change)
		}
	}
	return nil
}

func (m *MockClient) DeleteZone(_ context.Context, name string) error {
	name = arpa.Fqdn(name)
	m.calls = append(m.calls, "DELETE "+name)
	if err := m.deleteErr[name]; err != nil {
		return err
	}
	delete(m.zones, name)
	return nil
}

// testLogger returns a quiet logger for tests
func testLogger() *logger.Logger {
	return logger.Discard()
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	s, err := NewSettings(config.Default())
	if err != nil {
		t.Fatalf("NewSettings failed: %v", err)
	}
	return s
}

func student(first, last string, index int) roster.Student {
	host := first + "-" + last
	return roster.Student{
		Email:    first + "." + last + "@student.ucll.be",
		Hostname: host,
		DNSZone:  host + ".sasm.uclllabs.be",
		IPv4:     fmt.Sprintf("193.191.176.%d", index),
		IPv6:     fmt.Sprintf("2001:6a8:2880:a020::%d", index),
		Index:    index,
	}
}

func contents(z *powerdns.Zone, name, rrType string) []string {
	r, ok := z.FindRRset(name, rrType)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.Records))
	for _, rec := range r.Records {
		out = append(out, rec.Content)
	}
	sort.Strings(out)
	return out
}
