// Package reconcile drives the passes that bring PowerDNS in line with the
// student roster: cleanup of stray delegations, slave zone creation, parent
// zone delegation and reverse records.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/config"
	"github.com/uclllabs/sasm-dns/internal/logger"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
	"github.com/uclllabs/sasm-dns/internal/roster"
	"github.com/uclllabs/sasm-dns/internal/rrset"
)

var (
	// ErrAborted is returned when user cancels the operation.
	ErrAborted = errors.New("operation aborted by user")
	// ErrPreconditionFailed is returned before any API call when the roster
	// cannot be reconciled as given.
	ErrPreconditionFailed = roster.ErrPreconditionFailed
)

// ZoneClient defines the PowerDNS operations the engine needs.
type ZoneClient interface {
	ListZones(ctx context.Context) ([]powerdns.Zone, error)
	GetZone(ctx context.Context, name string) (*powerdns.Zone, bool, error)
	CreateZone(ctx context.Context, name, kind string, masters []string) (bool, error)
	PatchZone(ctx context.Context, name string, rrsets []powerdns.RRset) error
	DeleteZone(ctx context.Context, name string) error
}

// Pass names one reconciliation step.
type Pass string

// Passes in run order.
const (
	PassCleanup    Pass = "cleanup"
	PassZones      Pass = "zones"
	PassDelegation Pass = "delegation"
	PassPTR        Pass = "ptr"
	PassVerify     Pass = "verify"
)

// AllPasses lists the mutating passes in the order they run.
var AllPasses = []Pass{PassCleanup, PassZones, PassDelegation, PassPTR}

// ParsePass converts a flag value to a Pass.
func ParsePass(s string) (Pass, error) {
	for _, p := range AllPasses {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown pass %q, must be one of: cleanup, zones, delegation, ptr", s)
}

// Settings are the resolved, canonical inputs of every pass.
type Settings struct {
	ParentZone        string
	ParentNameservers []string
	NameserverLabel   string
	ZoneKind          string
	TTL               uint32
	ReverseIPv4       string
	ReverseIPv6       string
	CleanupZones      []string
	Allow             *config.AllowList
	PTRLabel          string
	PTRMode           string
}

// NewSettings validates cfg and canonicalizes every name in it.
func NewSettings(cfg *config.Config) (Settings, error) {
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	allow, err := cfg.AllowList()
	if err != nil {
		return Settings{}, err
	}

	nameservers := make([]string, 0, len(cfg.ParentNameservers))
	for _, ns := range cfg.ParentNameservers {
		nameservers = append(nameservers, arpa.Fqdn(ns))
	}

	return Settings{
		ParentZone:        arpa.Fqdn(cfg.ParentZone),
		ParentNameservers: nameservers,
		NameserverLabel:   strings.ToLower(cfg.NameserverLabel),
		ZoneKind:          cfg.ZoneKind,
		TTL:               cfg.TTL,
		ReverseIPv4:       arpa.Fqdn(cfg.ReverseZones.IPv4),
		ReverseIPv6:       arpa.Fqdn(cfg.ReverseZones.IPv6),
		CleanupZones:      cfg.CleanupZones(),
		Allow:             allow,
		PTRLabel:          strings.ToLower(cfg.PTR.Label),
		PTRMode:           cfg.PTR.Mode,
	}, nil
}

// NameserverName returns the in-zone nameserver of a student zone.
func (s Settings) NameserverName(st roster.Student) string {
	return arpa.Fqdn(s.NameserverLabel + "." + st.DNSZone)
}

// PTRTarget returns the name the student's PTR records point at.
func (s Settings) PTRTarget(st roster.Student) string {
	if s.PTRMode == config.PTRModeHostname {
		return arpa.Fqdn(s.PTRLabel + "." + st.Hostname + "." + s.ParentZone)
	}
	return arpa.Fqdn(s.PTRLabel + "." + st.DNSZone)
}

// ReverseZoneFor returns the configured reverse zone for ip's family.
func (s Settings) ReverseZoneFor(ip string) string {
	if strings.Contains(ip, ":") {
		return s.ReverseIPv6
	}
	return s.ReverseIPv4
}

// ConfirmFunc is a function that asks for user confirmation.
type ConfirmFunc func(prompt string) bool

// Options contains options for Run.
type Options struct {
	RunID       string
	DryRun      bool
	AutoConfirm bool
	// Passes to run; empty means AllPasses. Order is always AllPasses order.
	Passes []Pass
}

func (o Options) enabled(p Pass) bool {
	if len(o.Passes) == 0 {
		return true
	}
	for _, q := range o.Passes {
		if q == p {
			return true
		}
	}
	return false
}

// Engine runs reconciliation passes against a ZoneClient.
type Engine struct {
	client    ZoneClient
	settings  Settings
	log       *logger.Logger
	confirmFn ConfirmFunc
}

// NewEngine creates a new engine.
func NewEngine(client ZoneClient, settings Settings, log *logger.Logger) *Engine {
	return &Engine{
		client:   client,
		settings: settings,
		log:      log,
	}
}

// SetConfirmFunc sets the confirmation function for interactive prompts.
func (e *Engine) SetConfirmFunc(fn ConfirmFunc) {
	e.confirmFn = fn
}

// Run executes the enabled passes in order. Unit failures are recorded in
// the report and do not stop the run. A pass that cannot read the zone it
// works on is aborted and recorded; an aborted cleanup pass stops the run,
// since later passes would build on stray state.
func (e *Engine) Run(ctx context.Context, students []roster.Student, opts Options) (*Report, error) {
	if err := roster.CheckUnique(students); err != nil {
		return nil, err
	}

	report := NewReport(opts.RunID, opts.DryRun)
	passes := []struct {
		pass Pass
		run  func(context.Context, []roster.Student, Options, *Report) error
	}{
		{PassCleanup, e.cleanup},
		{PassZones, e.provisionZones},
		{PassDelegation, e.provisionDelegation},
		{PassPTR, e.provisionPTR},
	}

	for _, p := range passes {
		if !opts.enabled(p.pass) {
			e.log.Debug("Skipping pass %s", p.pass)
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		e.log.Info("Running pass: %s", p.pass)
		start := time.Now()
		err := p.run(ctx, students, opts, report)
		report.Durations[p.pass] = time.Since(start)

		switch {
		case err == nil:
		case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return report, err
		default:
			report.abort(p.pass, err)
			e.log.Error("Pass %s aborted: %v", p.pass, err)
			if p.pass == PassCleanup {
				return report, fmt.Errorf("pass %s: %w", p.pass, err)
			}
		}
	}

	return report, nil
}

func (e *Engine) record(report *Report, pass Pass, entity, outcome, reason string) {
	report.add(pass, entity, outcome, reason)
	e.log.Outcome(string(pass), entity, outcome, reason)
}

func (e *Engine) confirm(opts Options, prompt string) error {
	if opts.DryRun || opts.AutoConfirm || e.confirmFn == nil {
		return nil
	}
	if !e.confirmFn(prompt) {
		return ErrAborted
	}
	return nil
}

// logChanges logs a table of pending RRset changes and, in verbose mode, the
// record-level diff of each.
func (e *Engine) logChanges(title string, changes []Change) {
	if len(changes) == 0 {
		return
	}

	var rows [][]string
	for _, c := range changes {
		op := "update"
		switch {
		case c.Desired.ChangeType == powerdns.ChangeDelete:
			op = "delete"
		case c.Existing == nil:
			op = "create"
		}
		records := c.Desired.Records
		if op == "delete" && c.Existing != nil {
			records = c.Existing.Records
		}
		contents := make([]string, 0, len(records))
		for _, r := range records {
			contents = append(contents, r.Content)
		}
		rows = append(rows, []string{op, c.Desired.Name, c.Desired.Type, fmt.Sprint(c.Desired.TTL), strings.Join(contents, ", ")})
	}
	e.log.Table(title, []string{"CHANGE", "NAME", "TYPE", "TTL", "CONTENT"}, rows)

	for _, c := range changes {
		e.log.Debug("  %s %s", c.Desired.Name, c.Desired.Type)
		desired := c.Desired
		for _, d := range rrset.Diff(c.Existing, &desired) {
			e.log.Diff(d.Op, d.Content)
		}
	}
}
