package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
	"github.com/uclllabs/sasm-dns/internal/roster"
	"github.com/uclllabs/sasm-dns/internal/rrset"
)

// Prober answers DNS questions from a live nameserver.
type Prober interface {
	NS(ctx context.Context, zone string) ([]string, error)
	PTR(ctx context.Context, name string) ([]string, error)
}

// Verify checks, without changing anything, that the server holds what a
// reconcile run would have written. With a non-nil prober the delegation
// and PTR facts are also checked over DNS.
func (e *Engine) Verify(ctx context.Context, students []roster.Student, prober Prober, runID string) (*Report, error) {
	if err := roster.CheckUnique(students); err != nil {
		return nil, err
	}

	report := NewReport(runID, false)
	start := time.Now()
	defer func() { report.Durations[PassVerify] = time.Since(start) }()

	zones, err := e.client.ListZones(ctx)
	if err != nil {
		report.abort(PassVerify, fmt.Errorf("failed to list zones: %w", err))
		return report, nil
	}
	e.verifyZones(zones, students, report)

	parent, found, err := e.client.GetZone(ctx, e.settings.ParentZone)
	switch {
	case err != nil:
		report.abort(PassVerify, fmt.Errorf("failed to read parent zone %s: %w", e.settings.ParentZone, err))
	case !found:
		report.abort(PassVerify, fmt.Errorf("parent zone %s does not exist", e.settings.ParentZone))
	default:
		e.verifyDelegation(parent, students, report)
	}

	reverse := make(map[string]*powerdns.Zone)
	for _, name := range []string{e.settings.ReverseIPv4, e.settings.ReverseIPv6} {
		if name == "" {
			continue
		}
		zone, _, err := e.client.GetZone(ctx, name)
		if err != nil {
			report.abort(PassVerify, fmt.Errorf("failed to read reverse zone %s: %w", name, err))
			return report, nil
		}
		reverse[name] = zone
	}
	e.verifyPTR(reverse, students, report)

	if prober != nil {
		e.probe(ctx, prober, students, report)
	}
	return report, nil
}

func (e *Engine) check(report *Report, entity string, ok bool, failFormat string, args ...interface{}) {
	if ok {
		e.record(report, PassVerify, entity, logger.OutcomeOK, "")
		return
	}
	e.record(report, PassVerify, entity, logger.OutcomeFail, fmt.Sprintf(failFormat, args...))
}

func (e *Engine) verifyZones(zones []powerdns.Zone, students []roster.Student, report *Report) {
	owners := roster.ZoneOwners(students)
	for _, name := range PlanZoneDeletions(zones, e.settings) {
		if _, ok := owners[name]; !ok {
			e.record(report, PassVerify, name, logger.OutcomeFail, "stray zone under "+e.settings.ParentZone)
		}
	}

	byName := make(map[string]powerdns.Zone, len(zones))
	for _, z := range zones {
		byName[arpa.Fqdn(z.Name)] = z
	}
	for _, st := range students {
		if !st.Eligible() || !st.HasIdentity() {
			continue
		}
		name := arpa.Fqdn(st.DNSZone)
		z, ok := byName[name]
		switch {
		case !ok:
			e.check(report, name+" zone", false, "zone does not exist")
		case !strings.EqualFold(z.Kind, e.settings.ZoneKind):
			e.check(report, name+" zone", false, "kind is %s, want %s", z.Kind, e.settings.ZoneKind)
		default:
			e.check(report, name+" zone", true, "")
		}
	}
}

func (e *Engine) verifyDelegation(parent *powerdns.Zone, students []roster.Student, report *Report) {
	idx := rrset.NewIndex(parent.RRsets)
	for _, st := range students {
		if !st.Eligible() || !st.HasIdentity() {
			continue
		}
		ns, a, aaaa := DesiredDelegation(st, e.settings)

		existing := idx.Lookup(ns.Name, "NS")
		missing := missingContents(ns, existing)
		e.check(report, ns.Name+" NS", len(missing) == 0, "missing targets %s", strings.Join(missing, ", "))

		for _, glue := range []powerdns.RRset{a, aaaa} {
			existing := idx.Lookup(glue.Name, glue.Type)
			want := glue.Records[0].Content
			e.check(report, glue.Name+" "+glue.Type, existing != nil && sameContents(glue, *existing),
				"want %s, have %s", want, contentsOf(glue.Type, existing))
		}
	}
}

func (e *Engine) verifyPTR(reverse map[string]*powerdns.Zone, students []roster.Student, report *Report) {
	for _, u := range PlanPTR(reverse, students, e.settings) {
		entity := u.Entity + " PTR"
		switch {
		case u.Outcome != logger.OutcomeOK:
			e.record(report, PassVerify, entity, u.Outcome, u.Reason)
		case len(u.Changes) == 0:
			e.check(report, entity, true, "")
		default:
			c := u.Changes[0]
			e.check(report, entity, false, "want %s, have %s",
				c.Desired.Records[0].Content, contentsOf("PTR", c.Existing))
		}
	}
}

func (e *Engine) probe(ctx context.Context, prober Prober, students []roster.Student, report *Report) {
	for _, st := range students {
		if !st.Eligible() || !st.HasIdentity() {
			continue
		}
		ns, _, _ := DesiredDelegation(st, e.settings)
		entity := "probe " + ns.Name + " NS"
		answer, err := prober.NS(ctx, ns.Name)
		if err != nil {
			e.check(report, entity, false, "%v", err)
		} else {
			missing := missingContents(ns, &powerdns.RRset{Type: "NS", Records: toRecords(answer)})
			e.check(report, entity, len(missing) == 0, "missing targets %s", strings.Join(missing, ", "))
		}

		target := e.settings.PTRTarget(st)
		for _, ip := range []string{st.IPv4, st.IPv6} {
			name, err := arpa.ReverseName(ip)
			if err != nil {
				continue
			}
			entity := "probe " + ip + " PTR"
			answer, err := prober.PTR(ctx, name)
			if err != nil {
				e.check(report, entity, false, "%v", err)
				continue
			}
			got := &powerdns.RRset{Type: "PTR", Records: toRecords(answer)}
			want := powerdns.RRset{Type: "PTR", Records: []powerdns.Record{{Content: target}}}
			e.check(report, entity, sameContents(want, *got), "want %s, have %s", target, contentsOf("PTR", got))
		}
	}
}

func toRecords(contents []string) []powerdns.Record {
	out := make([]powerdns.Record, 0, len(contents))
	for _, c := range contents {
		out = append(out, powerdns.Record{Content: c})
	}
	return out
}

// missingContents lists the records of desired absent from existing.
func missingContents(desired powerdns.RRset, existing *powerdns.RRset) []string {
	have := make(map[string]bool)
	if existing != nil {
		for _, r := range existing.Records {
			if !r.Disabled {
				have[rrset.CanonicalContent(desired.Type, r.Content)] = true
			}
		}
	}
	var missing []string
	for _, r := range desired.Records {
		c := rrset.CanonicalContent(desired.Type, r.Content)
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

func sameContents(want, have powerdns.RRset) bool {
	_, changed := rrset.Replace(&powerdns.RRset{TTL: want.TTL, Type: want.Type, Records: have.Records}, want)
	return !changed
}

func contentsOf(rrType string, rs *powerdns.RRset) string {
	if rs == nil || len(rs.Records) == 0 {
		return "nothing"
	}
	out := make([]string, 0, len(rs.Records))
	for _, r := range rs.Records {
		out = append(out, rrset.CanonicalContent(rrType, r.Content))
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
