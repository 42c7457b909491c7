// Package rrset merges desired RRsets into existing zone content and collects
// the minimal set of replacements to send in one PATCH.
package rrset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/powerdns"
)

// Key identifies an RRset within a zone.
type Key struct {
	Name string
	Type string
}

// KeyOf returns the canonical key for name and rrType.
func KeyOf(name, rrType string) Key {
	return Key{Name: arpa.Fqdn(name), Type: strings.ToUpper(rrType)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Name, k.Type)
}

// CanonicalContent normalizes record content so that equal data compares
// equal: domain names get a trailing dot and lower case, addresses their
// canonical textual form.
func CanonicalContent(rrType, content string) string {
	switch strings.ToUpper(rrType) {
	case "NS", "PTR", "CNAME":
		return arpa.Fqdn(content)
	case "A", "AAAA":
		return arpa.CanonicalAddress(strings.TrimSpace(content))
	default:
		return strings.TrimSpace(content)
	}
}

// Index maps existing RRsets by canonical key.
type Index map[Key]powerdns.RRset

// NewIndex indexes rrsets. A later duplicate key overwrites an earlier one.
func NewIndex(rrsets []powerdns.RRset) Index {
	idx := make(Index, len(rrsets))
	for _, rrset := range rrsets {
		idx[KeyOf(rrset.Name, rrset.Type)] = rrset
	}
	return idx
}

// Lookup returns the existing RRset for name and type, or nil.
func (idx Index) Lookup(name, rrType string) *powerdns.RRset {
	rrset, ok := idx[KeyOf(name, rrType)]
	if !ok {
		return nil
	}
	return &rrset
}

// Dedupe drops records whose canonical content was already seen, keeping
// the first occurrence.
func Dedupe(rrType string, records []powerdns.Record) []powerdns.Record {
	seen := make(map[string]bool, len(records))
	out := make([]powerdns.Record, 0, len(records))
	for _, r := range records {
		c := CanonicalContent(rrType, r.Content)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, r)
	}
	return out
}

// MergeUnion keeps every existing record and appends the desired records that
// are missing. A desired record present but disabled is re-enabled. The
// result carries changetype REPLACE; changed is false when nothing had to be
// added.
func MergeUnion(existing *powerdns.RRset, desired powerdns.RRset) (powerdns.RRset, bool) {
	merged := powerdns.RRset{
		Name:       arpa.Fqdn(desired.Name),
		Type:       strings.ToUpper(desired.Type),
		TTL:        desired.TTL,
		ChangeType: powerdns.ChangeReplace,
	}
	if existing == nil {
		merged.Records = Dedupe(merged.Type, desired.Records)
		return merged, len(merged.Records) > 0
	}

	merged.TTL = existing.TTL
	records := Dedupe(merged.Type, existing.Records)
	pos := make(map[string]int, len(records))
	for i, r := range records {
		pos[CanonicalContent(merged.Type, r.Content)] = i
	}

	changed := len(records) != len(existing.Records)
	for _, r := range desired.Records {
		c := CanonicalContent(merged.Type, r.Content)
		if i, ok := pos[c]; ok {
			if records[i].Disabled && !r.Disabled {
				records[i].Disabled = false
				changed = true
			}
			continue
		}
		pos[c] = len(records)
		records = append(records, powerdns.Record{Content: r.Content, Disabled: r.Disabled})
		changed = true
	}

	merged.Records = records
	return merged, changed
}

// Replace returns desired as a full replacement of existing. changed is false
// when existing already holds exactly the desired records with the same TTL.
func Replace(existing *powerdns.RRset, desired powerdns.RRset) (powerdns.RRset, bool) {
	replacement := powerdns.RRset{
		Name:       arpa.Fqdn(desired.Name),
		Type:       strings.ToUpper(desired.Type),
		TTL:        desired.TTL,
		ChangeType: powerdns.ChangeReplace,
		Records:    Dedupe(desired.Type, desired.Records),
	}
	if existing == nil {
		return replacement, true
	}
	if existing.TTL != replacement.TTL {
		return replacement, true
	}
	return replacement, !sameRecords(replacement.Type, existing.Records, replacement.Records)
}

func recordSet(rrType string, records []powerdns.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range Dedupe(rrType, records) {
		out = append(out, fmt.Sprintf("%s|%t", CanonicalContent(rrType, r.Content), r.Disabled))
	}
	sort.Strings(out)
	return out
}

func sameRecords(rrType string, a, b []powerdns.Record) bool {
	as, bs := recordSet(rrType, a), recordSet(rrType, b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Change describes one record-level difference between two RRsets.
type Change struct {
	Op      string // "+", "-" or "~"
	Content string
}

const disabledSuffix = " [disabled]"

func formatRecord(content string, disabled bool) string {
	if disabled {
		return content + disabledSuffix
	}
	return content
}

// Diff lists record-level changes from existing to desired, removals first.
// Either side may be nil.
func Diff(existing, desired *powerdns.RRset) []Change {
	var changes []Change
	rrType := ""
	switch {
	case desired != nil:
		rrType = desired.Type
	case existing != nil:
		rrType = existing.Type
	}

	existingRecords := make(map[string]powerdns.Record)
	if existing != nil {
		for _, r := range existing.Records {
			existingRecords[CanonicalContent(rrType, r.Content)] = r
		}
	}
	desiredRecords := make(map[string]powerdns.Record)
	if desired != nil && desired.ChangeType != powerdns.ChangeDelete {
		for _, r := range desired.Records {
			desiredRecords[CanonicalContent(rrType, r.Content)] = r
		}
	}

	for _, content := range sortedKeys(existingRecords) {
		if _, ok := desiredRecords[content]; !ok {
			changes = append(changes, Change{Op: "-", Content: formatRecord(content, existingRecords[content].Disabled)})
		}
	}
	for _, content := range sortedKeys(desiredRecords) {
		r := desiredRecords[content]
		old, ok := existingRecords[content]
		switch {
		case !ok:
			changes = append(changes, Change{Op: "+", Content: formatRecord(content, r.Disabled)})
		case old.Disabled != r.Disabled:
			changes = append(changes, Change{
				Op:      "~",
				Content: formatRecord(content, old.Disabled) + " -> " + formatRecord(content, r.Disabled),
			})
		}
	}
	return changes
}

func sortedKeys(m map[string]powerdns.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
