// Package roster derives per-student identities from e-mail addresses,
// assigns host addresses from a fixed pool and persists the result.
package roster

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/config"
)

var (
	// ErrPreconditionFailed is returned when a roster cannot be used or
	// extended as requested. Nothing is written when it is returned.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrNotFound is returned when a student is not in the store.
	ErrNotFound = errors.New("not found")
	// ErrInvalidEmail is returned for addresses without a first.last local part.
	ErrInvalidEmail = errors.New("invalid email")
)

// Student is one roster entry. The JSON shape is the one of the snapshot file.
type Student struct {
	Email    string `json:"original_email"`
	Hostname string `json:"hostname"`
	DNSZone  string `json:"dns_zone"`
	IPv4     string `json:"ipv4,omitempty"`
	IPv6     string `json:"ipv6,omitempty"`
	Index    int    `json:"index,omitempty"`

	lastName string
}

// Eligible reports whether the student has both addresses.
func (s Student) Eligible() bool {
	return s.IPv4 != "" && s.IPv6 != ""
}

// HasIdentity reports whether the student has a hostname and a zone, the
// names every record written for them derives from.
func (s Student) HasIdentity() bool {
	return s.Hostname != "" && s.DNSZone != ""
}

// Source yields the current roster.
type Source interface {
	Students(ctx context.Context) ([]Student, error)
}

// DeriveIdentity maps "first.last@domain" to hostname "first-last" and zone
// "first-last.<suffix>". Labels are lower-cased and stripped of anything but
// letters, digits and hyphens.
func DeriveIdentity(email, suffix string) (Student, error) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return Student{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	parts := strings.Split(strings.ToLower(email[:at]), ".")
	if len(parts) < 2 {
		return Student{}, fmt.Errorf("%w: %q has no first.last local part", ErrInvalidEmail, email)
	}
	for i, p := range parts {
		parts[i] = sanitizeLabel(p)
		if parts[i] == "" {
			return Student{}, fmt.Errorf("%w: %q has an empty name part", ErrInvalidEmail, email)
		}
	}

	hostname := strings.Join(parts, "-")
	return Student{
		Email:    email,
		Hostname: hostname,
		DNSZone:  strings.TrimSuffix(hostname+"."+arpa.Fqdn(suffix), "."),
		lastName: parts[1],
	}, nil
}

func sanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

// Pool hands out host addresses by index.
type Pool struct {
	IPv4Base netip.Addr
	IPv6Base netip.Addr
	First    int
	Last     int
}

// NewPool parses the configured pool.
func NewPool(cfg config.Pool) (Pool, error) {
	v4, err := netip.ParseAddr(cfg.IPv4Base)
	if err != nil || !v4.Is4() {
		return Pool{}, fmt.Errorf("pool ipv4 base %q: %w", cfg.IPv4Base, arpa.ErrInvalidAddress)
	}
	v6, err := netip.ParseAddr(cfg.IPv6Base)
	if err != nil || !v6.Is6() {
		return Pool{}, fmt.Errorf("pool ipv6 base %q: %w", cfg.IPv6Base, arpa.ErrInvalidAddress)
	}
	return Pool{IPv4Base: v4, IPv6Base: v6, First: cfg.First, Last: cfg.Last}, nil
}

// Addresses returns the IPv4 and IPv6 address for index. The IPv4 address is
// base plus index; the IPv6 address carries the decimal digits of index as
// its last group, so host 17 is "...::17" on both families.
func (p Pool) Addresses(index int) (string, string, error) {
	if index < p.First || index > p.Last {
		return "", "", fmt.Errorf("%w: index %d outside pool %d-%d", ErrPreconditionFailed, index, p.First, p.Last)
	}

	b4 := p.IPv4Base.As4()
	octet := int(b4[3]) + index
	if octet > 255 {
		return "", "", fmt.Errorf("%w: index %d overflows %s", ErrPreconditionFailed, index, p.IPv4Base)
	}
	b4[3] = byte(octet)

	group, err := strconv.ParseUint(strconv.Itoa(index), 16, 16)
	if err != nil {
		return "", "", fmt.Errorf("%w: index %d does not fit an IPv6 group", ErrPreconditionFailed, index)
	}
	b6 := p.IPv6Base.As16()
	b6[14] = byte(group >> 8)
	b6[15] = byte(group)

	return netip.AddrFrom4(b4).String(), netip.AddrFrom16(b6).String(), nil
}

// IndexOf recovers the host index from an IPv4 address of the pool.
func (p Pool) IndexOf(ipv4 string) (int, bool) {
	addr, err := netip.ParseAddr(ipv4)
	if err != nil || !addr.Is4() {
		return 0, false
	}
	a, base := addr.As4(), p.IPv4Base.As4()
	if a[0] != base[0] || a[1] != base[1] || a[2] != base[2] || a[3] < base[3] {
		return 0, false
	}
	return int(a[3] - base[3]), true
}

// SortByLastName orders students by last name, then by e-mail.
func SortByLastName(students []Student) {
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].lastName != students[j].lastName {
			return students[i].lastName < students[j].lastName
		}
		return students[i].Email < students[j].Email
	})
}

// CheckUnique fails when two entries share a hostname or a zone.
func CheckUnique(students []Student) error {
	hostnames := make(map[string]string, len(students))
	zones := make(map[string]string, len(students))
	var problems []string

	for _, s := range students {
		if !s.HasIdentity() {
			continue
		}
		host := strings.ToLower(s.Hostname)
		if other, ok := hostnames[host]; ok && other != s.Email {
			problems = append(problems, fmt.Sprintf("hostname %q used by %s and %s", s.Hostname, other, s.Email))
		}
		hostnames[host] = s.Email

		zone := arpa.Fqdn(s.DNSZone)
		if other, ok := zones[zone]; ok && other != s.Email {
			problems = append(problems, fmt.Sprintf("zone %q used by %s and %s", s.DNSZone, other, s.Email))
		}
		zones[zone] = s.Email
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, strings.Join(problems, "; "))
	}
	return nil
}

// ParseEmails reads e-mail addresses from r. It accepts a JSON array of
// strings, a JSON array of objects with an "email" field (the scraper output),
// an object wrapping such an array under "students", or plain text with one
// address per line and '#' comments.
func ParseEmails(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read emails: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		return parseEmailArray(trimmed)
	case '{':
		var wrapper struct {
			Students json.RawMessage `json:"students"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse emails: %w", err)
		}
		if len(wrapper.Students) == 0 {
			return nil, fmt.Errorf("failed to parse emails: no \"students\" array")
		}
		return parseEmailArray(wrapper.Students)
	}

	var emails []string
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails = append(emails, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read emails: %w", err)
	}
	return emails, nil
}

func parseEmailArray(data []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse emails: %w", err)
	}

	emails := make([]string, 0, len(items))
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			emails = append(emails, strings.TrimSpace(s))
			continue
		}
		var obj struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse emails: item %d: %w", i, err)
		}
		if obj.Email == "" {
			continue
		}
		emails = append(emails, strings.TrimSpace(obj.Email))
	}
	return emails, nil
}

// DecodeSnapshot reads a JSON snapshot of students.
func DecodeSnapshot(r io.Reader) ([]Student, error) {
	var students []Student
	if err := json.NewDecoder(r).Decode(&students); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	for i := range students {
		students[i].Email = strings.TrimSpace(students[i].Email)
		students[i].DNSZone = strings.TrimSuffix(arpa.Fqdn(students[i].DNSZone), ".")
		students[i].Hostname = strings.ToLower(strings.TrimSpace(students[i].Hostname))
		if !students[i].HasIdentity() {
			return nil, fmt.Errorf("%w: snapshot entry %d (%s) has no hostname or dns_zone",
				ErrPreconditionFailed, i, students[i].Email)
		}
	}
	return students, nil
}

// EncodeSnapshot writes students as an indented JSON array.
func EncodeSnapshot(w io.Writer, students []Student) error {
	if students == nil {
		students = []Student{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(students); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// FileSource reads the roster from a JSON snapshot file.
type FileSource struct {
	Path string
}

// Students implements Source.
func (f FileSource) Students(ctx context.Context) ([]Student, error) {
	file, err := os.Open(f.Path) //nolint:gosec // path is from CLI argument
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer file.Close()
	return DecodeSnapshot(file)
}
