package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
	"github.com/uclllabs/sasm-dns/internal/roster"
	"github.com/uclllabs/sasm-dns/internal/rrset"
)

// Change is one RRset write together with the RRset it replaces, if any.
type Change struct {
	Existing *powerdns.RRset
	Desired  powerdns.RRset
}

// Unit is the planned work for one entity of a pass.
type Unit struct {
	Entity string
	// Zone receives the changes.
	Zone string
	// Outcome is SKIP or FAIL when the unit cannot proceed; OK otherwise.
	Outcome string
	Reason  string
	Changes []Change
}

// Pending reports whether the unit has changes to send.
func (u Unit) Pending() bool {
	return u.Outcome == logger.OutcomeOK && len(u.Changes) > 0
}

func skipUnit(entity, format string, args ...interface{}) Unit {
	return Unit{Entity: entity, Outcome: logger.OutcomeSkip, Reason: fmt.Sprintf(format, args...)}
}

func failUnit(entity, format string, args ...interface{}) Unit {
	return Unit{Entity: entity, Outcome: logger.OutcomeFail, Reason: fmt.Sprintf(format, args...)}
}

// PlanZoneDeletions returns the zones strictly under the parent zone that
// no allow-list pattern keeps, sorted. Designated cleanup zones are never
// returned.
func PlanZoneDeletions(zones []powerdns.Zone, s Settings) []string {
	designated := make(map[string]bool, len(s.CleanupZones))
	for _, z := range s.CleanupZones {
		designated[arpa.Fqdn(z)] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, z := range zones {
		name := arpa.Fqdn(z.Name)
		if seen[name] || designated[name] {
			continue
		}
		seen[name] = true
		if !arpa.IsStrictlyUnder(name, s.ParentZone) || s.Allow.Allowed(name) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PlanStrayDelegations schedules deletion of every NS and DS RRset in zone
// whose owner name no allow-list pattern keeps. The apex NS set and all other
// types are left alone.
func PlanStrayDelegations(zone *powerdns.Zone, s Settings) *rrset.Plan {
	apex := arpa.Fqdn(zone.Name)
	plan := rrset.NewPlan(apex)

	for _, rs := range zone.RRsets {
		rrType := strings.ToUpper(rs.Type)
		if rrType != "NS" && rrType != "DS" {
			continue
		}
		name := arpa.Fqdn(rs.Name)
		if name == apex || s.Allow.Allowed(name) {
			continue
		}
		plan.Delete(name, rrType)
	}
	return plan
}

// StrayChanges pairs every deletion in plan with the RRset it removes from
// zone. Owner names are matched canonically.
func StrayChanges(zone *powerdns.Zone, plan *rrset.Plan) []Change {
	idx := rrset.NewIndex(zone.RRsets)
	changes := make([]Change, 0, plan.Len())
	for _, rs := range plan.RRsets() {
		changes = append(changes, Change{Existing: idx.Lookup(rs.Name, rs.Type), Desired: rs})
	}
	return changes
}

// DesiredDelegation returns the NS RRset and glue RRsets the parent zone
// should carry for st.
func DesiredDelegation(st roster.Student, s Settings) (ns, a, aaaa powerdns.RRset) {
	zone := arpa.Fqdn(st.DNSZone)
	nsName := s.NameserverName(st)

	targets := make([]powerdns.Record, 0, len(s.ParentNameservers)+1)
	for _, p := range s.ParentNameservers {
		targets = append(targets, powerdns.Record{Content: p})
	}
	targets = append(targets, powerdns.Record{Content: nsName})

	ns = powerdns.RRset{Name: zone, Type: "NS", TTL: s.TTL, Records: targets}
	a = powerdns.RRset{Name: nsName, Type: "A", TTL: s.TTL, Records: []powerdns.Record{{Content: st.IPv4}}}
	aaaa = powerdns.RRset{Name: nsName, Type: "AAAA", TTL: s.TTL, Records: []powerdns.Record{{Content: st.IPv6}}}
	return ns, a, aaaa
}

// PlanDelegation computes, from the current parent zone, the delegation
// changes for every student. NS sets are merged by union so foreign targets
// survive; glue is replaced outright. All changes share one plan, to be sent
// to the parent zone in a single patch.
func PlanDelegation(parent *powerdns.Zone, students []roster.Student, s Settings) (*rrset.Plan, []Unit) {
	idx := rrset.NewIndex(parent.RRsets)
	plan := rrset.NewPlan(arpa.Fqdn(parent.Name))
	units := make([]Unit, 0, len(students))

	for _, st := range students {
		entity := studentEntity(st)
		if !st.HasIdentity() {
			units = append(units, skipUnit(entity, "missing hostname or zone"))
			continue
		}
		if !st.Eligible() {
			units = append(units, skipUnit(entity, "missing IPv4 or IPv6 address"))
			continue
		}
		if !arpa.IsStrictlyUnder(entity, s.ParentZone) {
			units = append(units, failUnit(entity, "zone is not under parent %s", s.ParentZone))
			continue
		}

		ns, a, aaaa := DesiredDelegation(st, s)
		unit := Unit{Entity: entity, Zone: plan.Zone, Outcome: logger.OutcomeOK}

		if merged, changed := rrset.MergeUnion(idx.Lookup(ns.Name, ns.Type), ns); changed {
			unit.Changes = append(unit.Changes, Change{Existing: idx.Lookup(ns.Name, ns.Type), Desired: merged})
		}
		for _, glue := range []powerdns.RRset{a, aaaa} {
			if replaced, changed := rrset.Replace(idx.Lookup(glue.Name, glue.Type), glue); changed {
				unit.Changes = append(unit.Changes, Change{Existing: idx.Lookup(glue.Name, glue.Type), Desired: replaced})
			}
		}

		for _, c := range unit.Changes {
			if err := plan.Replace(c.Desired); err != nil {
				unit = failUnit(entity, "%v", err)
				break
			}
		}
		unit.Reason = describeChanges(unit)
		units = append(units, unit)
	}
	return plan, units
}

// PlanPTR computes the PTR change for each student address. reverse maps the
// canonical name of each configured reverse zone to its current content, or
// nil when the zone does not exist. Each pending unit carries exactly one
// single-record PTR RRset.
func PlanPTR(reverse map[string]*powerdns.Zone, students []roster.Student, s Settings) []Unit {
	indexes := make(map[string]rrset.Index, len(reverse))
	for name, zone := range reverse {
		if zone != nil {
			indexes[name] = rrset.NewIndex(zone.RRsets)
		}
	}

	var units []Unit
	for _, st := range students {
		if !st.HasIdentity() {
			units = append(units, skipUnit(studentEntity(st), "missing hostname or zone"))
			continue
		}
		addrs := make([]string, 0, 2)
		for _, ip := range []string{st.IPv4, st.IPv6} {
			if ip != "" {
				addrs = append(addrs, ip)
			}
		}
		if len(addrs) == 0 {
			units = append(units, skipUnit(arpa.Fqdn(st.DNSZone), "no addresses"))
			continue
		}

		target := s.PTRTarget(st)
		for _, ip := range addrs {
			units = append(units, planOnePTR(indexes, reverse, ip, target, s))
		}
	}
	return units
}

func planOnePTR(indexes map[string]rrset.Index, reverse map[string]*powerdns.Zone, ip, target string, s Settings) Unit {
	name, err := arpa.ReverseName(ip)
	if err != nil {
		return failUnit(ip, "%v", err)
	}
	name = arpa.Fqdn(name)

	zone := s.ReverseZoneFor(ip)
	if zone == "" || !arpa.IsStrictlyUnder(name, zone) {
		return skipUnit(ip, "%s is not under reverse zone %q", name, zone)
	}
	if reverse[zone] == nil {
		return skipUnit(ip, "reverse zone %s does not exist", zone)
	}

	desired := powerdns.RRset{
		Name:    name,
		Type:    "PTR",
		TTL:     s.TTL,
		Records: []powerdns.Record{{Content: target}},
	}
	existing := indexes[zone].Lookup(name, "PTR")
	unit := Unit{Entity: ip, Zone: zone, Outcome: logger.OutcomeOK}
	if replaced, changed := rrset.Replace(existing, desired); changed {
		unit.Changes = []Change{{Existing: existing, Desired: replaced}}
	}
	unit.Reason = describeChanges(unit)
	return unit
}

// studentEntity names a student in outcomes: the zone, or the e-mail when
// there is none.
func studentEntity(st roster.Student) string {
	if st.DNSZone == "" {
		return st.Email
	}
	return arpa.Fqdn(st.DNSZone)
}

func describeChanges(u Unit) string {
	if u.Outcome != logger.OutcomeOK {
		return u.Reason
	}
	if len(u.Changes) == 0 {
		return "unchanged"
	}
	parts := make([]string, 0, len(u.Changes))
	for _, c := range u.Changes {
		verb := "updated"
		if c.Existing == nil {
			verb = "created"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", verb, c.Desired.Type, c.Desired.Name))
	}
	return strings.Join(parts, ", ")
}
