package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/courierproto/client-go/internal/crypto"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSettings_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.conf")

	s, err := LoadSettings(path, false)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.Suite != crypto.SuitePQ {
		t.Errorf("Suite = %q, want %q", s.Suite, crypto.SuitePQ)
	}
	if s.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", s.SweepInterval)
	}
	if strings.HasPrefix(s.Root, "~") {
		t.Errorf("Root = %q, want it expanded", s.Root)
	}

	if _, err := LoadSettings(path, true); err == nil {
		t.Error("LoadSettings(mustExist) error = nil, want error")
	}
}

func TestLoadSettings_File(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "courier.conf", `
root = `+dir+`
relay = http://127.0.0.1:9000
suite = nacl
allowedhosts = a.example, b.example ,
debug = yes

[addressbook]
table = book
region = eu-west-1
localurl = http://127.0.0.1:8000

[relay]
listen = :9000
baseurl = http://relay.example
redis = redis://127.0.0.1:6379/1
maxlifetime = 24h
inboxlifetime = 0
sweepinterval = 30s
`)

	s, err := LoadSettings(path, true)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	want := &Settings{
		Root:          dir,
		RelayURL:      "http://127.0.0.1:9000",
		Suite:         crypto.SuiteNaCl,
		AllowedHosts:  []string{"a.example", "b.example"},
		Debug:         true,
		BookTable:     "book",
		BookRegion:    "eu-west-1",
		BookLocalURL:  "http://127.0.0.1:8000",
		Listen:        ":9000",
		BaseURL:       "http://relay.example",
		RedisURL:      "redis://127.0.0.1:6379/1",
		MaxLifetime:   24 * time.Hour,
		InboxLifetime: 0,
		SweepInterval: 30 * time.Second,
	}
	if !reflect.DeepEqual(s, want) {
		t.Errorf("LoadSettings() = %+v, want %+v", s, want)
	}
	if got := s.IdentityPath(); got != filepath.Join(dir, "identity.xdr") {
		t.Errorf("IdentityPath() = %q", got)
	}
	if got := s.StorePath(); got != filepath.Join(dir, "db") {
		t.Errorf("StorePath() = %q", got)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bool", "debug = maybe\n"},
		{"duration", "[relay]\nsweepinterval = soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "courier.conf", tt.content)
			if _, err := LoadSettings(path, true); err == nil {
				t.Error("LoadSettings() error = nil, want error")
			}
		})
	}
}

func TestLoadSettings_Directory(t *testing.T) {
	if _, err := LoadSettings(t.TempDir(), true); err == nil {
		t.Error("LoadSettings(dir) error = nil, want error")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "courier.conf")

	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig() error = %v", err)
	}
	s, err := LoadSettings(path, true)
	if err != nil {
		t.Fatalf("LoadSettings(default) error = %v", err)
	}
	if s.Listen != "127.0.0.1:8080" {
		t.Errorf("Listen = %q, want default", s.Listen)
	}

	// An existing file is left alone.
	if err := os.WriteFile(path, []byte("suite = nacl\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "suite = nacl\n" {
		t.Errorf("config overwritten: %q", data)
	}
}
