package rrset

import (
	"fmt"

	"github.com/uclllabs/sasm-dns/internal/powerdns"
)

// Plan is the set of RRset changes to send to one zone. It holds at most one
// entry per key; the order of first insertion is preserved so patches are
// reproducible.
type Plan struct {
	Zone    string
	entries map[Key]powerdns.RRset
	order   []Key
}

// NewPlan returns an empty plan for zone.
func NewPlan(zone string) *Plan {
	return &Plan{
		Zone:    zone,
		entries: make(map[Key]powerdns.RRset),
	}
}

func (p *Plan) put(rrset powerdns.RRset) {
	key := KeyOf(rrset.Name, rrset.Type)
	if _, ok := p.entries[key]; !ok {
		p.order = append(p.order, key)
	}
	rrset.Name = key.Name
	rrset.Type = key.Type
	p.entries[key] = rrset
}

// Replace schedules rrset to fully replace the records under its key.
// An RRset without records is refused.
func (p *Plan) Replace(rrset powerdns.RRset) error {
	if len(rrset.Records) == 0 {
		return fmt.Errorf("refusing to replace %s with an empty record list", KeyOf(rrset.Name, rrset.Type))
	}
	rrset.ChangeType = powerdns.ChangeReplace
	p.put(rrset)
	return nil
}

// Delete schedules removal of the RRset under name and type.
func (p *Plan) Delete(name, rrType string) {
	p.put(powerdns.RRset{
		Name:       name,
		Type:       rrType,
		ChangeType: powerdns.ChangeDelete,
	})
}

// Get returns the scheduled change for key.
func (p *Plan) Get(key Key) (powerdns.RRset, bool) {
	rrset, ok := p.entries[key]
	return rrset, ok
}

// Len returns the number of scheduled RRset changes.
func (p *Plan) Len() int {
	return len(p.order)
}

// RRsets returns the scheduled changes in insertion order.
func (p *Plan) RRsets() []powerdns.RRset {
	out := make([]powerdns.RRset, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.entries[key])
	}
	return out
}
