package reconcile

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/uclllabs/sasm-dns/internal/logger"
)

// Entry is the outcome of one unit of work.
type Entry struct {
	Pass    Pass   `json:"pass"`
	Entity  string `json:"entity"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// Report collects what a run did.
type Report struct {
	RunID   string  `json:"runId"`
	DryRun  bool    `json:"dryRun"`
	Entries []Entry `json:"entries"`

	ZonesDeleted  int `json:"zonesDeleted"`
	ZonesCreated  int `json:"zonesCreated"`
	RRsetsDeleted int `json:"rrsetsDeleted"`
	RRsetsCreated int `json:"rrsetsCreated"`
	RRsetsUpdated int `json:"rrsetsUpdated"`
	PTRsWritten   int `json:"ptrsWritten"`

	Durations map[Pass]time.Duration `json:"-"`
	Aborted   map[Pass]error         `json:"-"`
	Errors    []error                `json:"-"`

	// zones a dry-run cleanup would have deleted; later passes treat them
	// as absent
	deletedInDryRun map[string]bool
}

// NewReport returns an empty report.
func NewReport(runID string, dryRun bool) *Report {
	return &Report{
		RunID:     runID,
		DryRun:    dryRun,
		Durations: make(map[Pass]time.Duration),
		Aborted:   make(map[Pass]error),

		deletedInDryRun: make(map[string]bool),
	}
}

func (r *Report) add(pass Pass, entity, outcome, reason string) {
	r.Entries = append(r.Entries, Entry{Pass: pass, Entity: entity, Outcome: outcome, Reason: reason})
	if outcome == logger.OutcomeFail {
		r.Errors = append(r.Errors, fmt.Errorf("%s %s: %s", pass, entity, reason))
	}
}

func (r *Report) abort(pass Pass, err error) {
	r.Aborted[pass] = err
}

// Count returns the number of entries of pass with outcome. An empty pass
// counts every pass.
func (r *Report) Count(pass Pass, outcome string) int {
	n := 0
	for _, e := range r.Entries {
		if (pass == "" || e.Pass == pass) && e.Outcome == outcome {
			n++
		}
	}
	return n
}

// Find returns the entries for entity in pass.
func (r *Report) Find(pass Pass, entity string) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Pass == pass && e.Entity == entity {
			out = append(out, e)
		}
	}
	return out
}

// Err folds every unit failure and aborted pass into one error, or nil.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, pass := range []Pass{PassCleanup, PassZones, PassDelegation, PassPTR, PassVerify} {
		if err, ok := r.Aborted[pass]; ok {
			result = multierror.Append(result, fmt.Errorf("pass %s aborted: %w", pass, err))
		}
	}
	result = multierror.Append(result, r.Errors...)
	return result.ErrorOrNil()
}

// Summary returns the report counters as table rows.
func (r *Report) Summary() [][]string {
	return [][]string{
		{"Zones deleted", fmt.Sprint(r.ZonesDeleted)},
		{"Zones created", fmt.Sprint(r.ZonesCreated)},
		{"RRsets deleted", fmt.Sprint(r.RRsetsDeleted)},
		{"RRsets created", fmt.Sprint(r.RRsetsCreated)},
		{"RRsets updated", fmt.Sprint(r.RRsetsUpdated)},
		{"PTRs written", fmt.Sprint(r.PTRsWritten)},
		{"Failures", fmt.Sprint(r.Count("", logger.OutcomeFail))},
		{"Skipped", fmt.Sprint(r.Count("", logger.OutcomeSkip))},
	}
}
