package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/uclllabs/sasm-dns/internal/config"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
	"github.com/uclllabs/sasm-dns/internal/roster"
)

func TestPlanZoneDeletions(t *testing.T) {
	zones := []powerdns.Zone{
		{Name: parentZone},
		{Name: "rudi.sasm.uclllabs.be."},
		{Name: "Anna.sasm.uclllabs.be."},
		{Name: "pieter.sasm.uclllabs.be."},
		{Name: "jan-peeters.sasm.uclllabs.be."},
		{Name: "bob.sasm.uclllabs.be"},
		{Name: "elsewhere.example.org."},
		{Name: reverse4},
	}

	got := PlanZoneDeletions(zones, testSettings(t))
	want := []string{"anna.sasm.uclllabs.be.", "bob.sasm.uclllabs.be."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PlanZoneDeletions mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanStrayDelegations(t *testing.T) {
	zone := &powerdns.Zone{
		Name: parentZone,
		RRsets: []powerdns.RRset{
			rs(parentZone, "NS", "ns1.uclllabs.be."),
			rs("rudi.sasm.uclllabs.be.", "NS", "ns.rudi.sasm.uclllabs.be."),
			rs("anna.sasm.uclllabs.be.", "NS", "ns.anna.sasm.uclllabs.be."),
			rs("anna.sasm.uclllabs.be.", "DS", "1 13 2 ab"),
			rs("anna.sasm.uclllabs.be.", "TXT", "\"hi\""),
		},
	}

	plan := PlanStrayDelegations(zone, testSettings(t))
	var got []string
	for _, r := range plan.RRsets() {
		got = append(got, r.ChangeType+" "+r.Name+" "+r.Type)
	}
	want := []string{
		"DELETE anna.sasm.uclllabs.be. NS",
		"DELETE anna.sasm.uclllabs.be. DS",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PlanStrayDelegations mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanDelegation_UnionKeepsForeignTargets(t *testing.T) {
	parent := &powerdns.Zone{
		Name: parentZone,
		RRsets: []powerdns.RRset{
			rs("jan-peeters.sasm.uclllabs.be.", "NS", "ns1.uclllabs.be.", "backup.example.org."),
			rs("ns.jan-peeters.sasm.uclllabs.be.", "A", "193.191.176.99"),
			rs("ns.jan-peeters.sasm.uclllabs.be.", "AAAA", "2001:6a8:2880:a020::5"),
		},
	}

	plan, units := PlanDelegation(parent, []roster.Student{student("jan", "peeters", 5)}, testSettings(t))
	if len(units) != 1 || !units[0].Pending() {
		t.Fatalf("Expected one pending unit, got %+v", units)
	}
	if plan.Len() != 2 {
		t.Fatalf("Expected NS and A in plan, got %d entries", plan.Len())
	}

	rrsets := plan.RRsets()
	var ns []string
	for _, r := range rrsets[0].Records {
		ns = append(ns, r.Content)
	}
	want := []string{"ns1.uclllabs.be.", "backup.example.org.", "ns2.uclllabs.be.", "ns.jan-peeters.sasm.uclllabs.be."}
	if diff := cmp.Diff(want, ns); diff != "" {
		t.Errorf("Merged NS mismatch (-want +got):\n%s", diff)
	}
	if rrsets[1].Type != "A" || rrsets[1].Records[0].Content != "193.191.176.5" {
		t.Errorf("Expected glue A replaced, got %+v", rrsets[1])
	}
	for _, r := range rrsets {
		if r.ChangeType != powerdns.ChangeReplace {
			t.Errorf("Expected REPLACE on %s %s, got %q", r.Name, r.Type, r.ChangeType)
		}
	}
}

func TestPlanDelegation_NeverDuplicatesTargets(t *testing.T) {
	parent := &powerdns.Zone{
		Name: parentZone,
		RRsets: []powerdns.RRset{
			rs("jan-peeters.sasm.uclllabs.be.", "NS", "NS1.UCLLLABS.BE", "ns1.uclllabs.be."),
		},
	}
	plan, _ := PlanDelegation(parent, []roster.Student{student("jan", "peeters", 5)}, testSettings(t))
	got := plan.RRsets()[0]
	if got.Type != "NS" || len(got.Records) != 3 {
		t.Errorf("Expected three distinct NS targets, got %+v", got.Records)
	}
}

func TestPlanDelegation_OutsideParent(t *testing.T) {
	st := student("jan", "peeters", 5)
	st.DNSZone = "jan-peeters.example.org"

	_, units := PlanDelegation(&powerdns.Zone{Name: parentZone}, []roster.Student{st}, testSettings(t))
	if units[0].Outcome != logger.OutcomeFail {
		t.Errorf("Expected FAIL for zone outside parent, got %+v", units[0])
	}
}

func TestPlanPTR(t *testing.T) {
	reverse := map[string]*powerdns.Zone{
		reverse4: {Name: reverse4, RRsets: []powerdns.RRset{
			rs("6.176.191.193.in-addr.arpa.", "PTR", "mx.an-smets.sasm.uclllabs.be."),
		}},
		reverse6: nil,
	}
	outside := student("piet", "claes", 7)
	outside.IPv4 = "10.0.0.7"
	bad := student("bad", "address", 8)
	bad.IPv4 = "193.191.176"

	units := PlanPTR(reverse, []roster.Student{student("jan", "peeters", 5), student("an", "smets", 6), outside, bad}, testSettings(t))

	type result struct{ Entity, Outcome, Reason string }
	var got []result
	for _, u := range units {
		got = append(got, result{u.Entity, u.Outcome, u.Reason})
		if u.Pending() {
			if len(u.Changes) != 1 || len(u.Changes[0].Desired.Records) != 1 || u.Changes[0].Desired.Records[0].Content == "" {
				t.Errorf("Pending PTR unit must carry one non-empty record: %+v", u)
			}
		}
	}

	want := []result{
		{"193.191.176.5", logger.OutcomeOK, "created PTR 5.176.191.193.in-addr.arpa."},
		{"2001:6a8:2880:a020::5", logger.OutcomeSkip, "reverse zone " + reverse6 + " does not exist"},
		{"193.191.176.6", logger.OutcomeOK, "unchanged"},
		{"2001:6a8:2880:a020::6", logger.OutcomeSkip, "reverse zone " + reverse6 + " does not exist"},
		{"10.0.0.7", logger.OutcomeSkip, "7.0.0.10.in-addr.arpa. is not under reverse zone \"" + reverse4 + "\""},
		{"2001:6a8:2880:a020::7", logger.OutcomeSkip, "reverse zone " + reverse6 + " does not exist"},
		{"193.191.176", logger.OutcomeFail, units[6].Reason},
		{"2001:6a8:2880:a020::8", logger.OutcomeSkip, "reverse zone " + reverse6 + " does not exist"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PlanPTR mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanPTR_MissingIdentity(t *testing.T) {
	noZone := student("jan", "peeters", 9)
	noZone.DNSZone = ""
	noHost := student("an", "smets", 10)
	noHost.Hostname = ""
	bare := roster.Student{Email: "x@y", IPv4: "193.191.176.9"}

	reverse := map[string]*powerdns.Zone{
		reverse4: {Name: reverse4},
		reverse6: {Name: reverse6},
	}

	for _, mode := range []string{config.PTRModeZone, config.PTRModeHostname} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.Default()
			cfg.PTR.Mode = mode
			s, err := NewSettings(cfg)
			if err != nil {
				t.Fatalf("NewSettings failed: %v", err)
			}

			units := PlanPTR(reverse, []roster.Student{noZone, noHost, bare}, s)
			if len(units) != 3 {
				t.Fatalf("Expected one unit per student, got %+v", units)
			}
			for _, u := range units {
				if u.Pending() || u.Outcome != logger.OutcomeSkip || u.Reason != "missing hostname or zone" {
					t.Errorf("Expected SKIP for missing hostname or zone, got %+v", u)
				}
			}
			if units[0].Entity != noZone.Email || units[1].Entity != "an-smets.sasm.uclllabs.be." {
				t.Errorf("Unexpected entities: %q, %q", units[0].Entity, units[1].Entity)
			}
		})
	}
}

func TestPlanDelegation_MissingIdentity(t *testing.T) {
	st := student("jan", "peeters", 5)
	st.Hostname = ""

	plan, units := PlanDelegation(&powerdns.Zone{Name: parentZone}, []roster.Student{st}, testSettings(t))
	if plan.Len() != 0 {
		t.Errorf("Expected empty plan, got %+v", plan.RRsets())
	}
	if units[0].Outcome != logger.OutcomeSkip {
		t.Errorf("Expected SKIP, got %+v", units[0])
	}
}

func TestStrayChanges_MixedCaseOwner(t *testing.T) {
	zone := &powerdns.Zone{
		Name: parentZone,
		RRsets: []powerdns.RRset{
			rs("Anna.SASM.uclllabs.be.", "NS", "ns.anna.sasm.uclllabs.be."),
		},
	}

	plan := PlanStrayDelegations(zone, testSettings(t))
	changes := StrayChanges(zone, plan)
	if len(changes) != 1 {
		t.Fatalf("Expected one change, got %+v", changes)
	}
	c := changes[0]
	if c.Existing == nil {
		t.Fatal("Expected the existing NS RRset to be found")
	}
	if diff := cmp.Diff([]string{"ns.anna.sasm.uclllabs.be."}, []string{c.Existing.Records[0].Content}); diff != "" {
		t.Errorf("Existing records mismatch (-want +got):\n%s", diff)
	}
	if c.Desired.Name != "anna.sasm.uclllabs.be." || c.Desired.ChangeType != powerdns.ChangeDelete {
		t.Errorf("Expected DELETE of the canonical name, got %+v", c.Desired)
	}
}

func TestPTRTarget(t *testing.T) {
	st := student("jan", "peeters", 5)
	st.Hostname = "jan"

	s := testSettings(t)
	if got := s.PTRTarget(st); got != "mx.jan-peeters.sasm.uclllabs.be." {
		t.Errorf("zone mode target = %s", got)
	}

	cfg := config.Default()
	cfg.PTR.Mode = config.PTRModeHostname
	s, err := NewSettings(cfg)
	if err != nil {
		t.Fatalf("NewSettings failed: %v", err)
	}
	if got := s.PTRTarget(st); got != "mx.jan.sasm.uclllabs.be." {
		t.Errorf("hostname mode target = %s", got)
	}
}

func TestNewSettings_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.PTR.Mode = "nope"
	if _, err := NewSettings(cfg); err == nil {
		t.Error("Expected validation error")
	}
}
