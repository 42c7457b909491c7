package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sasm-dns.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default settings to validate, got: %v", err)
	}
}

func TestLoadFromFile_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
parent_zone: lab.example.org
ttl: 600
ptr:
  mode: hostname
api:
  timeout: 5s
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.ParentZone != "lab.example.org" {
		t.Errorf("Expected parent zone override, got %q", cfg.ParentZone)
	}
	if cfg.TTL != 600 {
		t.Errorf("Expected ttl 600, got %d", cfg.TTL)
	}
	if cfg.PTR.Mode != PTRModeHostname {
		t.Errorf("Expected ptr mode hostname, got %q", cfg.PTR.Mode)
	}
	if cfg.PTR.Label != "mx" {
		t.Errorf("Expected default ptr label to survive, got %q", cfg.PTR.Label)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.API.Timeout)
	}
	if len(cfg.ParentNameservers) != 2 {
		t.Errorf("Expected default parent nameservers, got %v", cfg.ParentNameservers)
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "parent_zone: [unterminated")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected parse error, got nil")
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected read error, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.ParentZone = ""
	cfg.TTL = 0
	cfg.ZoneKind = "Secondary"
	cfg.PTR.Mode = "reverse"
	cfg.ReverseZones.IPv4 = "176.191.193.example.org"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors, got nil")
	}
	if len(err.Errors) != 5 {
		t.Errorf("Expected 5 errors, got %d: %v", len(err.Errors), err)
	}
	for _, want := range []string{"parent_zone", "ttl", "invalid kind", "ptr.mode", "in-addr.arpa"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error mentioning %q, got: %v", want, err)
		}
	}
}

func TestValidate_Pool(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Pool)
		want   string
	}{
		{"inverted range", func(p *Pool) { p.First, p.Last = 10, 5 }, "index range"},
		{"ipv4 overflow", func(p *Pool) { p.IPv4Base = "193.191.176.10" }, "leaves the /24"},
		{"ipv4 family", func(p *Pool) { p.IPv4Base = "2001:db8::" }, "not an IPv4"},
		{"ipv6 family", func(p *Pool) { p.IPv6Base = "10.0.0.0" }, "not an IPv6"},
		{"ipv6 host bits", func(p *Pool) { p.IPv6Base = "2001:db8::1" }, "zero group"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg.Pool)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q error, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_BadAllowPattern(t *testing.T) {
	cfg := Default()
	cfg.Cleanup.Allow = []interface{}{"ok-.*", "(unclosed"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "cleanup.allow[1]") {
		t.Errorf("Expected error on second pattern, got: %v", err)
	}
}

func TestAllowList_Default(t *testing.T) {
	allow, err := Default().AllowList()
	if err != nil {
		t.Fatalf("AllowList failed: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"rudi.sasm.uclllabs.be.", true},
		{"pieter.sasm.uclllabs.be", true},
		{"jan-peeters.sasm.uclllabs.be.", true},
		{"ns.jan-peeters.sasm.uclllabs.be.", true},
		{"JAN-PEETERS.SASM.UCLLLABS.BE.", true},
		{"anna.sasm.uclllabs.be.", false},
		{"sasm.uclllabs.be.", false},
	}
	for _, tt := range tests {
		if got := allow.Allowed(tt.name); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAllowList_ListFromYAML(t *testing.T) {
	path := writeConfig(t, `
cleanup:
  allow:
    - '^keep\.'
    - 'staff'
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	allow, err := cfg.AllowList()
	if err != nil {
		t.Fatalf("AllowList failed: %v", err)
	}
	if !allow.Allowed("keep.sasm.uclllabs.be.") || !allow.Allowed("staff.sasm.uclllabs.be.") {
		t.Error("Expected both patterns to allow")
	}
	if allow.Allowed("jan-peeters.sasm.uclllabs.be.") {
		t.Error("Expected default pattern to be replaced")
	}
}

func TestAllowList_Nil(t *testing.T) {
	var allow *AllowList
	if allow.Allowed("rudi.sasm.uclllabs.be.") {
		t.Error("Expected nil allow-list to allow nothing")
	}
}

func TestCleanupZones(t *testing.T) {
	cfg := Default()
	got := cfg.CleanupZones()
	want := []string{
		"sasm.uclllabs.be.",
		"176.191.193.in-addr.arpa.",
		"a.0.8.8.2.8.a.6.0.1.0.0.2.ip6.arpa.",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("CleanupZones() = %v, want %v", got, want)
	}

	cfg.Cleanup.Zones = []string{"Other.Example"}
	if got := cfg.CleanupZones(); len(got) != 1 || got[0] != "other.example." {
		t.Errorf("CleanupZones() = %v, want [other.example.]", got)
	}
}

func TestCanonicalZoneName(t *testing.T) {
	tests := map[string]string{
		"example.com":  "example.com.",
		"example.com.": "example.com.",
		"Example.COM":  "example.com.",
	}
	for in, want := range tests {
		if got := CanonicalZoneName(in); got != want {
			t.Errorf("CanonicalZoneName(%q) = %q, want %q", in, got, want)
		}
	}
}
