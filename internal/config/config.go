// Package config handles loading and validating reconciler settings from YAML files.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PTR target modes.
const (
	// PTRModeZone points PTRs at <label>.<dnsZone>.
	PTRModeZone = "zone"
	// PTRModeHostname points PTRs at <label>.<hostname>.<parent>.
	PTRModeHostname = "hostname"
)

// DefaultAllowPattern keeps two-part student zones and the staff zones.
const DefaultAllowPattern = `(.*-.*|pieter|rudi)\.sasm\.uclllabs\.be`

// Config represents the reconciler settings.
type Config struct {
	ParentZone        string       `yaml:"parent_zone"`
	ParentNameservers []string     `yaml:"parent_nameservers"`
	NameserverLabel   string       `yaml:"nameserver_label"`
	ZoneKind          string       `yaml:"zone_kind"`
	TTL               uint32       `yaml:"ttl"`
	ReverseZones      ReverseZones `yaml:"reverse_zones"`
	Cleanup           Cleanup      `yaml:"cleanup"`
	PTR               PTR          `yaml:"ptr"`
	Pool              Pool         `yaml:"pool"`
	API               API          `yaml:"api"`
}

// ReverseZones names the reverse zones PTRs are written to.
type ReverseZones struct {
	IPv4 string `yaml:"ipv4"`
	IPv6 string `yaml:"ipv6"`
}

// Cleanup configures the cleanup pass.
type Cleanup struct {
	// Zones are scanned for stray NS/DS RRsets. Empty means the parent zone
	// plus both reverse zones.
	Zones []string `yaml:"zones,omitempty"`
	// Allow can be a single pattern or a list of patterns.
	Allow interface{} `yaml:"allow"`
}

// PTR configures reverse records.
type PTR struct {
	Label string `yaml:"label"`
	Mode  string `yaml:"mode"`
}

// Pool is the address range handed out to students.
type Pool struct {
	IPv4Base string `yaml:"ipv4_base"`
	IPv6Base string `yaml:"ipv6_base"`
	First    int    `yaml:"first"`
	Last     int    `yaml:"last"`
}

// API holds non-secret connection settings. Credentials come from flags or
// the environment.
type API struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Default returns the settings of the lab deployment.
func Default() *Config {
	return &Config{
		ParentZone:        "sasm.uclllabs.be",
		ParentNameservers: []string{"ns1.uclllabs.be", "ns2.uclllabs.be"},
		NameserverLabel:   "ns",
		ZoneKind:          "Slave",
		TTL:               3600,
		ReverseZones: ReverseZones{
			IPv4: "176.191.193.in-addr.arpa",
			IPv6: "a.0.8.8.2.8.a.6.0.1.0.0.2.ip6.arpa",
		},
		Cleanup: Cleanup{Allow: DefaultAllowPattern},
		PTR:     PTR{Label: "mx", Mode: PTRModeZone},
		Pool: Pool{
			IPv4Base: "193.191.176.0",
			IPv6Base: "2001:6a8:2880:a020::",
			First:    5,
			Last:     253,
		},
		API: API{Timeout: 30 * time.Second},
	}
}

// LoadFromFile loads settings from a YAML file on top of Default().
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from CLI argument
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// ValidationError holds all validation errors.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(
		"validation failed with %d error(s):\n  - %s",
		len(e.Errors),
		strings.Join(e.Errors, "\n  - "),
	)
}

// Add appends a formatted error message to the validation errors.
func (e *ValidationError) Add(format string, args ...interface{}) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the settings and returns all errors at once.
func (c *Config) Validate() *ValidationError {
	errs := &ValidationError{}

	if c.ParentZone == "" {
		errs.Add("parent_zone is required")
	}
	if len(c.ParentNameservers) == 0 {
		errs.Add("parent_nameservers: at least one nameserver is required")
	}
	for i, ns := range c.ParentNameservers {
		if ns == "" {
			errs.Add("parent_nameservers[%d] cannot be empty", i)
		}
	}
	if c.NameserverLabel == "" {
		errs.Add("nameserver_label is required")
	}
	if c.TTL == 0 {
		errs.Add("ttl must be positive")
	}

	c.validateKind(errs)
	c.validateReverseZones(errs)
	c.validateCleanup(errs)
	c.validatePTR(errs)
	c.validatePool(errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *Config) validateKind(errs *ValidationError) {
	validKinds := []string{"Native", "Master", "Slave", "Producer", "Consumer"}
	for _, k := range validKinds {
		if c.ZoneKind == k {
			return
		}
	}
	errs.Add(
		"zone_kind: invalid kind %q, must be one of: Native, Master, Slave, Producer, Consumer",
		c.ZoneKind,
	)
}

func (c *Config) validateReverseZones(errs *ValidationError) {
	if c.ReverseZones.IPv4 == "" && c.ReverseZones.IPv6 == "" {
		errs.Add("reverse_zones: at least one reverse zone is required")
	}
	if z := c.ReverseZones.IPv4; z != "" && !strings.HasSuffix(strings.TrimSuffix(strings.ToLower(z), "."), ".in-addr.arpa") {
		errs.Add("reverse_zones.ipv4: %q is not under in-addr.arpa", z)
	}
	if z := c.ReverseZones.IPv6; z != "" && !strings.HasSuffix(strings.TrimSuffix(strings.ToLower(z), "."), ".ip6.arpa") {
		errs.Add("reverse_zones.ipv6: %q is not under ip6.arpa", z)
	}
}

func (c *Config) validateCleanup(errs *ValidationError) {
	for i, z := range c.Cleanup.Zones {
		if z == "" {
			errs.Add("cleanup.zones[%d] cannot be empty", i)
		}
	}
	patterns, err := normalizePatterns(c.Cleanup.Allow)
	if err != nil {
		errs.Add("cleanup.allow: %v", err)
		return
	}
	for i, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs.Add("cleanup.allow[%d]: %v", i, err)
		}
	}
}

func (c *Config) validatePTR(errs *ValidationError) {
	if c.PTR.Label == "" {
		errs.Add("ptr.label is required")
	}
	if c.PTR.Mode != PTRModeZone && c.PTR.Mode != PTRModeHostname {
		errs.Add("ptr.mode: invalid mode %q, must be one of: %s, %s", c.PTR.Mode, PTRModeZone, PTRModeHostname)
	}
}

func (c *Config) validatePool(errs *ValidationError) {
	p := c.Pool
	if p.First < 1 || p.Last < p.First {
		errs.Add("pool: invalid index range %d-%d", p.First, p.Last)
	}

	v4, err := netip.ParseAddr(p.IPv4Base)
	switch {
	case err != nil || !v4.Is4():
		errs.Add("pool.ipv4_base: %q is not an IPv4 address", p.IPv4Base)
	case int(v4.As4()[3])+p.Last > 255:
		errs.Add("pool.ipv4_base: %s + %d leaves the /24", p.IPv4Base, p.Last)
	}

	v6, err := netip.ParseAddr(p.IPv6Base)
	switch {
	case err != nil || !v6.Is6() || v6.Is4In6():
		errs.Add("pool.ipv6_base: %q is not an IPv6 address", p.IPv6Base)
	case v6.As16()[14] != 0 || v6.As16()[15] != 0:
		errs.Add("pool.ipv6_base: %q must end in a zero group", p.IPv6Base)
	case p.Last > 9999:
		errs.Add("pool.last: %d does not fit in one IPv6 group as decimal digits", p.Last)
	}
}

// CleanupZones returns the zones scanned for stray delegations, canonicalized.
func (c *Config) CleanupZones() []string {
	zones := c.Cleanup.Zones
	if len(zones) == 0 {
		zones = []string{c.ParentZone, c.ReverseZones.IPv4, c.ReverseZones.IPv6}
	}
	out := make([]string, 0, len(zones))
	for _, z := range zones {
		if z != "" {
			out = append(out, CanonicalZoneName(z))
		}
	}
	return out
}

// AllowList returns the compiled cleanup allow-list.
func (c *Config) AllowList() (*AllowList, error) {
	patterns, err := normalizePatterns(c.Cleanup.Allow)
	if err != nil {
		return nil, err
	}
	return NewAllowList(patterns...)
}

// normalizePatterns accepts a single string or a list of strings.
func normalizePatterns(input interface{}) ([]string, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		patterns := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("pattern[%d]: unsupported type %T", i, item)
			}
			patterns = append(patterns, s)
		}
		return patterns, nil
	default:
		return nil, fmt.Errorf("unsupported allow type %T", input)
	}
}

// AllowList matches names that cleanup must leave alone.
type AllowList struct {
	patterns []*regexp.Regexp
}

// NewAllowList compiles patterns. An empty list allows nothing.
func NewAllowList(patterns ...string) (*AllowList, error) {
	a := &AllowList{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow pattern %q: %w", p, err)
		}
		a.patterns = append(a.patterns, re)
	}
	return a, nil
}

// Allowed reports whether name matches any pattern. Matching is unanchored
// and done on the lower-cased name without its trailing dot.
func (a *AllowList) Allowed(name string) bool {
	if a == nil {
		return false
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	for _, re := range a.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// CanonicalZoneName ensures zone name ends with a dot and is lower case.
func CanonicalZoneName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
