package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/vaughan0/go-ini"

	"github.com/courierproto/client-go/internal/crypto"
)

const (
	defaultDir      = ".courier"
	defaultConfFile = "courier.conf"
	identityFile    = "identity.xdr"
	storeDir        = "db"
)

var errIniNotFound = errors.New("not found")

// Settings is the CLI configuration.
type Settings struct {
	// Root holds the identity file and the local database.
	Root string

	RelayURL     string
	Suite        string
	AllowedHosts []string
	Debug        bool

	// BookTable selects a DynamoDB address book. Empty uses the local
	// database.
	BookTable    string
	BookRegion   string
	BookLocalURL string

	Listen        string
	BaseURL       string
	RedisURL      string
	MaxLifetime   time.Duration
	InboxLifetime time.Duration
	SweepInterval time.Duration
}

const defaultConfigFileContent = `# courier configuration

# root = ~/.courier
# relay = https://relay.example
# suite = pq
# allowedhosts = relay.example, mirror.example
# debug = no

[addressbook]
# table = courier-addressbook
# region = us-east-1
# localurl = http://127.0.0.1:8000

[relay]
# listen = 127.0.0.1:8080
# baseurl = http://127.0.0.1:8080
# redis = redis://127.0.0.1:6379/0
# maxlifetime = 720h
# inboxlifetime = 0
# sweepinterval = 1m
`

// DefaultConfigPath is ~/.courier/courier.conf.
func DefaultConfigPath() string {
	return filepath.Join("~", defaultDir, defaultConfFile)
}

func defaultSettings() *Settings {
	return &Settings{
		Root:          filepath.Join("~", defaultDir),
		Suite:         crypto.SuitePQ,
		Listen:        "127.0.0.1:8080",
		SweepInterval: time.Minute,
	}
}

// LoadSettings reads filename on top of the defaults. A missing file is
// only an error when mustExist is set.
func LoadSettings(filename string, mustExist bool) (*Settings, error) {
	s := defaultSettings()

	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(filename)
	switch {
	case os.IsNotExist(err) && !mustExist:
		return s, s.expand()
	case err != nil:
		return nil, err
	case fi.IsDir():
		return nil, fmt.Errorf("not a valid configuration file: %v", filename)
	}

	cfg, err := ini.LoadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%v: %v", filename, err)
	}

	if v, ok := cfg.Get("", "root"); ok {
		s.Root = v
	}
	if v, ok := cfg.Get("", "relay"); ok {
		s.RelayURL = v
	}
	if v, ok := cfg.Get("", "suite"); ok {
		s.Suite = v
	}
	if v, ok := cfg.Get("", "allowedhosts"); ok {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				s.AllowedHosts = append(s.AllowedHosts, h)
			}
		}
	}
	if err := iniBool(cfg, &s.Debug, "", "debug"); err != nil && !errors.Is(err, errIniNotFound) {
		return nil, err
	}

	if v, ok := cfg.Get("addressbook", "table"); ok {
		s.BookTable = v
	}
	if v, ok := cfg.Get("addressbook", "region"); ok {
		s.BookRegion = v
	}
	if v, ok := cfg.Get("addressbook", "localurl"); ok {
		s.BookLocalURL = v
	}

	if v, ok := cfg.Get("relay", "listen"); ok {
		s.Listen = v
	}
	if v, ok := cfg.Get("relay", "baseurl"); ok {
		s.BaseURL = v
	}
	if v, ok := cfg.Get("relay", "redis"); ok {
		s.RedisURL = v
	}
	for key, p := range map[string]*time.Duration{
		"maxlifetime":   &s.MaxLifetime,
		"inboxlifetime": &s.InboxLifetime,
		"sweepinterval": &s.SweepInterval,
	} {
		if err := iniDuration(cfg, p, "relay", key); err != nil && !errors.Is(err, errIniNotFound) {
			return nil, err
		}
	}

	return s, s.expand()
}

func (s *Settings) expand() error {
	root, err := homedir.Expand(s.Root)
	if err != nil {
		return err
	}
	s.Root = root
	return nil
}

// IdentityPath is the identity file under Root.
func (s *Settings) IdentityPath() string {
	return filepath.Join(s.Root, identityFile)
}

// StorePath is the database directory under Root.
func (s *Settings) StorePath() string {
	return filepath.Join(s.Root, storeDir)
}

// WriteDefaultConfig creates filename with commented defaults unless it
// exists.
func WriteDefaultConfig(filename string) error {
	filename, err := homedir.Expand(filename)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filename); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(defaultConfigFileContent), 0600)
}

func iniBool(cfg ini.File, p *bool, section, key string) error {
	v, ok := cfg.Get(section, key)
	if !ok {
		return errIniNotFound
	}
	switch strings.ToLower(v) {
	case "yes", "true":
		*p = true
	case "no", "false":
		*p = false
	default:
		return fmt.Errorf("[%v]%v must be yes or no", section, key)
	}
	return nil
}

func iniDuration(cfg ini.File, p *time.Duration, section, key string) error {
	v, ok := cfg.Get(section, key)
	if !ok {
		return errIniNotFound
	}
	if n, err := strconv.Atoi(v); err == nil && n == 0 {
		*p = 0
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("[%v]%v: %v", section, key, err)
	}
	*p = d
	return nil
}
