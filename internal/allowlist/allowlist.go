package allowlist

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/leadmail/leadmail/internal/text"
)

// Match types
const (
	MatchEmail    = "email"
	MatchDomain   = "domain"
	MatchContains = "contains"
)

// DefaultBonus is the bonus of an entry loaded without one
const DefaultBonus = 50

// Sender is one known lead source
type Sender struct {
	Pattern   string `yaml:"pattern" json:"pattern"`
	MatchType string `yaml:"match_type" json:"matchType"`
	Bonus     int    `yaml:"bonus" json:"bonus"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	Notes     string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Matches reports whether the sender address from belongs to s. Both sides
// are lowercased and accent-folded.
func (s Sender) Matches(from string) bool {
	addr := normalize(from)
	pat := normalize(s.Pattern)
	if addr == "" || pat == "" {
		return false
	}
	switch s.MatchType {
	case MatchEmail:
		return addr == pat
	case MatchDomain:
		at := strings.LastIndexByte(addr, '@')
		if at < 0 {
			return false
		}
		domain := addr[at+1:]
		pat = strings.TrimPrefix(pat, "@")
		return domain == pat || strings.HasSuffix(domain, "."+pat)
	case MatchContains:
		return strings.Contains(addr, pat)
	}
	return false
}

// UnmarshalYAML fills Bonus with DefaultBonus when the key is absent.
// An explicit "bonus: 0" is kept.
func (s *Sender) UnmarshalYAML(node *yaml.Node) error {
	type plain Sender
	p := plain{Bonus: DefaultBonus}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Sender(p)
	return nil
}

// Score is the bonus given to a matching message
func (s Sender) Score() int {
	return s.Bonus
}

func (s Sender) validate() error {
	if strings.TrimSpace(s.Pattern) == "" {
		return eris.New("allowlist: pattern is required")
	}
	switch s.MatchType {
	case MatchEmail, MatchDomain, MatchContains:
		return nil
	}
	return eris.Errorf("allowlist: unknown match type %q for %s", s.MatchType, s.Pattern)
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j > 0 {
			s = s[i+1 : i+j]
		}
	}
	return text.Fold(s)
}

// Database is the list of known senders as stored on disk
type Database struct {
	Senders []Sender `yaml:"senders"`
}

// LoadFromFile reads a yaml allowlist. Entries with an invalid match type
// are rejected.
func LoadFromFile(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "allowlist: read file")
	}

	var db Database
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, eris.Wrapf(err, "allowlist: parse %s", path)
	}

	for i := range db.Senders {
		if db.Senders[i].MatchType == "" {
			db.Senders[i].MatchType = MatchDomain
		}
		if err := db.Senders[i].validate(); err != nil {
			return nil, err
		}
	}
	return &db, nil
}

// LoadFromDir merges every .yaml/.yml file of dir
func LoadFromDir(dir string) (*Database, error) {
	db := &Database{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrap(err, "allowlist: read directory")
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		part, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "allowlist: load %s", entry.Name())
		}
		db.Senders = append(db.Senders, part.Senders...)
	}

	return db, nil
}

// Find returns the entry with the given pattern, or nil
func (db *Database) Find(pattern string) *Sender {
	pattern = normalize(pattern)
	for i := range db.Senders {
		if normalize(db.Senders[i].Pattern) == pattern {
			return &db.Senders[i]
		}
	}
	return nil
}

// Match returns the first entry matching from, or nil
func (db *Database) Match(from string) *Sender {
	for i := range db.Senders {
		if db.Senders[i].Matches(from) {
			return &db.Senders[i]
		}
	}
	return nil
}

func (db *Database) Add(s Sender) error {
	if s.MatchType == "" {
		s.MatchType = MatchDomain
	}
	if err := s.validate(); err != nil {
		return err
	}
	if db.Find(s.Pattern) != nil {
		return eris.Errorf("allowlist: sender %q already exists", s.Pattern)
	}
	db.Senders = append(db.Senders, s)
	return nil
}

// Remove deletes the entry with the given pattern.
// Returns the removed entry, or nil if not found
func (db *Database) Remove(pattern string) *Sender {
	pattern = normalize(pattern)
	for i := range db.Senders {
		if normalize(db.Senders[i].Pattern) == pattern {
			removed := db.Senders[i]
			db.Senders = append(db.Senders[:i], db.Senders[i+1:]...)
			return &removed
		}
	}
	return nil
}

func (db *Database) Save(path string) error {
	data, err := yaml.Marshal(db)
	if err != nil {
		return eris.Wrap(err, "allowlist: serialize")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return eris.Wrap(err, "allowlist: create directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "allowlist: write")
	}
	return nil
}

// SaveWithBackup saves the database to path, copying the previous file to
// path+".bak" first
func (db *Database) SaveWithBackup(path string) error {
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrap(err, "allowlist: read file for backup")
		}
		if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
			return eris.Wrap(err, "allowlist: create backup")
		}
	}

	return db.Save(path)
}
