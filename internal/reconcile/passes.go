package reconcile

import (
	"context"
	"fmt"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
	"github.com/uclllabs/sasm-dns/internal/roster"
	"github.com/uclllabs/sasm-dns/internal/rrset"
)

// cleanup deletes stray zones under the parent and stray NS/DS RRsets in the
// designated zones. Everything is read before anything is deleted, so a
// read failure aborts the pass without side effects.
func (e *Engine) cleanup(ctx context.Context, _ []roster.Student, opts Options, report *Report) error {
	zones, err := e.client.ListZones(ctx)
	if err != nil {
		return fmt.Errorf("failed to list zones: %w", err)
	}
	doomed := PlanZoneDeletions(zones, e.settings)

	var strays []*rrset.Plan
	var strayChanges []Change
	for _, name := range e.settings.CleanupZones {
		zone, found, err := e.client.GetZone(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to read zone %s: %w", name, err)
		}
		if !found {
			e.record(report, PassCleanup, name, logger.OutcomeSkip, "zone does not exist")
			continue
		}
		plan := PlanStrayDelegations(zone, e.settings)
		if plan.Len() == 0 {
			e.log.Debug("  No stray delegations in %s", name)
			continue
		}
		strays = append(strays, plan)
		strayChanges = append(strayChanges, StrayChanges(zone, plan)...)
	}

	if len(doomed) == 0 && len(strays) == 0 {
		e.log.Info("  Nothing to clean up")
		return nil
	}

	rows := make([][]string, 0, len(doomed))
	for _, name := range doomed {
		rows = append(rows, []string{name})
	}
	e.log.Table("Zones to delete", []string{"ZONE"}, rows)
	e.logChanges("Delegations to delete", strayChanges)

	if err := e.confirm(opts, fmt.Sprintf("Delete %d zone(s) and %d RRset(s)?", len(doomed), len(strayChanges))); err != nil {
		return err
	}

	for _, name := range doomed {
		if opts.DryRun {
			e.record(report, PassCleanup, name, logger.OutcomeOK, "would delete zone")
			report.ZonesDeleted++
			report.deletedInDryRun[name] = true
			continue
		}
		if err := e.client.DeleteZone(ctx, name); err != nil {
			e.record(report, PassCleanup, name, logger.OutcomeFail, err.Error())
			continue
		}
		e.record(report, PassCleanup, name, logger.OutcomeOK, "zone deleted")
		report.ZonesDeleted++
	}

	for _, plan := range strays {
		reason := fmt.Sprintf("deleted %d stray RRset(s)", plan.Len())
		if opts.DryRun {
			reason = fmt.Sprintf("would delete %d stray RRset(s)", plan.Len())
		} else if err := e.client.PatchZone(ctx, plan.Zone, plan.RRsets()); err != nil {
			e.record(report, PassCleanup, plan.Zone, logger.OutcomeFail, err.Error())
			continue
		}
		e.record(report, PassCleanup, plan.Zone, logger.OutcomeOK, reason)
		report.RRsetsDeleted += plan.Len()
	}
	return nil
}

// provisionZones declares one slave zone per eligible student.
func (e *Engine) provisionZones(ctx context.Context, students []roster.Student, opts Options, report *Report) error {
	attempted := make(map[string]bool, len(students))

	for _, st := range students {
		if !st.HasIdentity() {
			e.record(report, PassZones, studentEntity(st), logger.OutcomeSkip, "missing hostname or zone")
			continue
		}
		zone := arpa.Fqdn(st.DNSZone)
		if attempted[zone] {
			continue
		}
		attempted[zone] = true

		if !st.Eligible() {
			e.record(report, PassZones, zone, logger.OutcomeSkip, "missing IPv4 or IPv6 address")
			continue
		}
		masters := []string{st.IPv4, st.IPv6}

		if opts.DryRun {
			_, found, err := e.client.GetZone(ctx, zone)
			if report.deletedInDryRun[zone] {
				found = false
			}
			switch {
			case err != nil:
				e.record(report, PassZones, zone, logger.OutcomeFail, err.Error())
			case found:
				e.record(report, PassZones, zone, logger.OutcomeOK, "already exists")
			default:
				e.record(report, PassZones, zone, logger.OutcomeOK,
					fmt.Sprintf("would create %s zone with masters %v", e.settings.ZoneKind, masters))
				report.ZonesCreated++
			}
			continue
		}

		created, err := e.client.CreateZone(ctx, zone, e.settings.ZoneKind, masters)
		switch {
		case err != nil:
			e.record(report, PassZones, zone, logger.OutcomeFail, err.Error())
		case created:
			e.record(report, PassZones, zone, logger.OutcomeOK,
				fmt.Sprintf("created %s zone with masters %v", e.settings.ZoneKind, masters))
			report.ZonesCreated++
		default:
			e.record(report, PassZones, zone, logger.OutcomeOK, "already exists")
		}
	}
	return nil
}

// provisionDelegation writes NS and glue for every student into the parent
// zone with one patch.
func (e *Engine) provisionDelegation(ctx context.Context, students []roster.Student, opts Options, report *Report) error {
	parent, found, err := e.client.GetZone(ctx, e.settings.ParentZone)
	if err != nil {
		return fmt.Errorf("failed to read parent zone %s: %w", e.settings.ParentZone, err)
	}
	if !found {
		return fmt.Errorf("parent zone %s does not exist", e.settings.ParentZone)
	}

	plan, units := PlanDelegation(parent, students, e.settings)

	var changes []Change
	for _, u := range units {
		if u.Pending() {
			changes = append(changes, u.Changes...)
		}
	}
	e.logChanges(fmt.Sprintf("Delegation changes for %s", plan.Zone), changes)

	var patchErr error
	if plan.Len() > 0 && !opts.DryRun {
		patchErr = e.client.PatchZone(ctx, plan.Zone, plan.RRsets())
	} else if plan.Len() == 0 {
		e.log.Debug("  No delegation changes needed")
	}

	for _, u := range units {
		if u.Pending() && patchErr != nil {
			e.record(report, PassDelegation, u.Entity, logger.OutcomeFail, patchErr.Error())
			continue
		}
		reason := u.Reason
		if u.Pending() && opts.DryRun {
			reason = "would have " + reason
		}
		e.record(report, PassDelegation, u.Entity, u.Outcome, reason)
		if u.Pending() {
			countChanges(report, u.Changes)
		}
	}
	return nil
}

// provisionPTR writes one PTR per student address, one patch per address.
func (e *Engine) provisionPTR(ctx context.Context, students []roster.Student, opts Options, report *Report) error {
	reverse := make(map[string]*powerdns.Zone)
	for _, name := range []string{e.settings.ReverseIPv4, e.settings.ReverseIPv6} {
		if name == "" {
			continue
		}
		zone, found, err := e.client.GetZone(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to read reverse zone %s: %w", name, err)
		}
		if !found {
			e.log.Warn("Reverse zone %s does not exist", name)
			zone = nil
		}
		reverse[name] = zone
	}

	units := PlanPTR(reverse, students, e.settings)

	var changes []Change
	for _, u := range units {
		if u.Pending() {
			changes = append(changes, u.Changes...)
		}
	}
	e.logChanges("PTR changes", changes)

	for _, u := range units {
		if !u.Pending() {
			e.record(report, PassPTR, u.Entity, u.Outcome, u.Reason)
			continue
		}

		plan := rrset.NewPlan(u.Zone)
		if err := plan.Replace(u.Changes[0].Desired); err != nil {
			e.record(report, PassPTR, u.Entity, logger.OutcomeFail, err.Error())
			continue
		}

		reason := u.Reason
		if opts.DryRun {
			reason = "would have " + reason
		} else if err := e.client.PatchZone(ctx, plan.Zone, plan.RRsets()); err != nil {
			e.record(report, PassPTR, u.Entity, logger.OutcomeFail, err.Error())
			continue
		}
		e.record(report, PassPTR, u.Entity, logger.OutcomeOK, reason)
		report.PTRsWritten++
	}
	return nil
}

func countChanges(report *Report, changes []Change) {
	for _, c := range changes {
		if c.Existing == nil {
			report.RRsetsCreated++
		} else {
			report.RRsetsUpdated++
		}
	}
}
