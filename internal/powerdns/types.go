package powerdns

// Zone kinds.
const (
	KindNative = "Native"
	KindMaster = "Master"
	KindSlave  = "Slave"
)

// RRset change types.
const (
	ChangeReplace = "REPLACE"
	ChangeDelete  = "DELETE"
)

// Zone represents a PowerDNS zone for API requests/responses.
// See: https://doc.powerdns.com/authoritative/http-api/zone.html
type Zone struct {
	// ID is opaque zone id assigned by the server (read-only)
	ID string `json:"id,omitempty"`
	// Name of the zone (e.g. "example.com.") MUST have a trailing dot
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	// Kind is zone kind: "Native", "Master", "Slave", "Producer", "Consumer"
	Kind string `json:"kind,omitempty"`
	// Masters is list of IP addresses configured as primary for this zone (Slave zones only)
	Masters []string `json:"masters,omitempty"`
	// Nameservers is sent on creation; PowerDNS rejects a missing field for some kinds
	Nameservers []string `json:"nameservers"`
	Serial      int64    `json:"serial,omitempty"`
	RRsets      []RRset  `json:"rrsets,omitempty"`
}

// RRset represents a Resource Record Set (all records with the same name and type).
type RRset struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// TTL MUST NOT be included when changetype is "DELETE"
	TTL        uint32    `json:"ttl,omitempty"`
	ChangeType string    `json:"changetype,omitempty"`
	Records    []Record  `json:"records,omitempty"`
	Comments   []Comment `json:"comments,omitempty"`
}

// Record represents a single DNS record.
type Record struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

// Comment represents a comment on an RRSet.
type Comment struct {
	Content string `json:"content"`
	Account string `json:"account"`
}

// ZonePatch represents a PATCH request body for modifying zone RRsets.
type ZonePatch struct {
	RRsets []RRset `json:"rrsets"`
}

// APIError represents an error response from PowerDNS API.
type APIError struct {
	Error string `json:"error"`
}

// FindRRset returns the RRset with the given name and type, if present.
// Names are compared exactly; callers pass canonical FQDNs.
func (z *Zone) FindRRset(name, rrType string) (RRset, bool) {
	if z == nil {
		return RRset{}, false
	}
	for _, rrset := range z.RRsets {
		if rrset.Name == name && rrset.Type == rrType {
			return rrset, true
		}
	}
	return RRset{}, false
}
