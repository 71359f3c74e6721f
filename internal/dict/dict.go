// Package dict defines pronunciation pack storage: versioned JSON files
// holding word and phrase overrides, loaded from disk and kept in memory
// for the resolver.
package dict

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Pack is one pronunciation dictionary: a named, versioned set of word and
// phrase overrides. Phrase keys may contain spaces; word keys never do.
// On disk and in upload bodies a pack is a single "entries" map (see
// packFile); Words/Phrases is an in-memory split of that map kept so the
// resolver doesn't need to inspect every key for whitespace on every
// lookup. The pack endpoints respond with this split form, as "words" and
// "phrases".
type Pack struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Format  string            `json:"format"`
	Words   map[string]string `json:"words"`
	Phrases map[string]string `json:"phrases"`
}

// NewPack builds a Pack from a wire-format entries map (spec §6), as used
// by the upload/learn/override/promote handlers that accept raw bodies.
func NewPack(name string, entries map[string]interface{}) *Pack {
	words, phrases := splitEntries(entries)
	return &Pack{Name: name, Format: "espeak", Words: words, Phrases: phrases}
}

// GetEntry looks up a single key (word or phrase) in a pack.
func GetEntry(p *Pack, key string) (string, bool) {
	if strings.ContainsAny(key, " \t") {
		v, ok := p.Phrases[key]
		return v, ok
	}
	v, ok := p.Words[strings.ToLower(key)]
	return v, ok
}

// SetEntry upserts a single key (word or phrase) into a pack, classifying
// it by whether the key contains whitespace.
func SetEntry(p *Pack, key, phonemes string) {
	if p.Words == nil {
		p.Words = map[string]string{}
	}
	if p.Phrases == nil {
		p.Phrases = map[string]string{}
	}
	if strings.ContainsAny(key, " \t") {
		p.Phrases[key] = phonemes
		return
	}
	p.Words[strings.ToLower(key)] = phonemes
}

// DeleteEntry removes a single key (word or phrase) from a pack, if present.
func DeleteEntry(p *Pack, key string) {
	if strings.ContainsAny(key, " \t") {
		delete(p.Phrases, key)
		return
	}
	delete(p.Words, strings.ToLower(key))
}

func (p *Pack) clone() *Pack {
	c := &Pack{Name: p.Name, Version: p.Version, Format: p.Format}
	c.Words = make(map[string]string, len(p.Words))
	for k, v := range p.Words {
		c.Words[k] = v
	}
	c.Phrases = make(map[string]string, len(p.Phrases))
	for k, v := range p.Phrases {
		c.Phrases[k] = v
	}
	return c
}

// EntryCount returns the total number of word and phrase entries, for the
// dictionary listing endpoint.
func (p *Pack) EntryCount() int {
	return len(p.Words) + len(p.Phrases)
}

// packFile is the on-disk/wire shape from spec §6: a single "entries" map
// instead of the split Words/Phrases used internally. Entry values may be
// a plain phoneme string or an object carrying {"phonemes","source"}.
type packFile struct {
	Name    string                 `json:"name"`
	Version string                 `json:"version"`
	Format  string                 `json:"format"`
	Entries map[string]interface{} `json:"entries"`
}

func entryPhonemes(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case map[string]interface{}:
		p, ok := val["phonemes"].(string)
		return p, ok
	default:
		return "", false
	}
}

// splitEntries classifies a wire-format entries map into single-token
// words and multi-word phrases by whether the key contains whitespace.
func splitEntries(entries map[string]interface{}) (words, phrases map[string]string) {
	words = map[string]string{}
	phrases = map[string]string{}
	for key, raw := range entries {
		phonemes, ok := entryPhonemes(raw)
		if !ok {
			continue
		}
		if strings.ContainsAny(key, " \t") {
			phrases[key] = phonemes
		} else {
			words[key] = phonemes
		}
	}
	return words, phrases
}

// mergeEntries flattens words and phrases back into one wire-format map.
func mergeEntries(words, phrases map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(words)+len(phrases))
	for k, v := range words {
		out[k] = v
	}
	for k, v := range phrases {
		out[k] = v
	}
	return out
}

// Store loads and caches packs by name from a directory of "<name>.json"
// files, recording the mtime of each file as it is loaded. LoadAll
// re-parses every file in the directory, changed or not.
type Store struct {
	dir string

	mu     sync.RWMutex
	packs  map[string]*Pack
	mtimes map[string]int64
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, packs: map[string]*Pack{}, mtimes: map[string]int64{}}
}

// LoadAll scans dir for *.json pack files and loads each one.
func (s *Store) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("dict: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if err := s.load(name); err != nil {
			return fmt.Errorf("dict: load %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) load(name string) error {
	path := filepath.Join(s.dir, name+".json")
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var pf packFile
	if err := sonic.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	pack := &Pack{Name: pf.Name, Version: pf.Version, Format: pf.Format}
	if pack.Name == "" {
		pack.Name = name
	}
	if pack.Version == "" {
		pack.Version = strconv.FormatInt(info.ModTime().UnixNano(), 10)
	}
	if pack.Format == "" {
		pack.Format = "espeak"
	}
	pack.Words, pack.Phrases = splitEntries(pf.Entries)

	s.mu.Lock()
	s.packs[name] = pack
	s.mtimes[name] = info.ModTime().UnixNano()
	s.mu.Unlock()
	return nil
}

// Get returns a defensive copy of the named pack, or nil if absent.
func (s *Store) Get(name string) *Pack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packs[name]
	if !ok {
		return nil
	}
	return p.clone()
}

// Names returns every loaded pack name, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.packs))
	for n := range s.packs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Versions returns the current version string of every loaded pack,
// keyed by name, for cache-key composition.
func (s *Store) Versions() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.packs))
	for n, p := range s.packs {
		out[n] = p.Version
	}
	return out
}

// Put replaces a pack in memory and persists it to disk with a freshly
// bumped version, writing the spec §6 {name,version,format,entries} shape,
// used by the dictionary upload/override/promote endpoints.
func (s *Store) Put(pack *Pack) error {
	pack.Version = bumpVersion(pack.Version)
	if pack.Format == "" {
		pack.Format = "espeak"
	}
	pf := packFile{
		Name:    pack.Name,
		Version: pack.Version,
		Format:  pack.Format,
		Entries: mergeEntries(pack.Words, pack.Phrases),
	}
	data, err := sonic.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("dict: marshal: %w", err)
	}
	path := filepath.Join(s.dir, pack.Name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("dict: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("dict: rename: %w", err)
	}
	s.mu.Lock()
	s.packs[pack.Name] = pack.clone()
	s.mu.Unlock()
	return nil
}

// bumpVersion stamps a UTC timestamp version so newer packs always compare
// greater than older ones by plain string comparison.
func bumpVersion(prev string) string {
	now := time.Now().UTC()
	stamp := now.Format("20060102-150405")
	if strings.HasPrefix(prev, stamp) {
		// more bumps within the same second: disambiguate with a zero-padded
		// sub-second suffix, which sorts after the previous version.
		return fmt.Sprintf("%s-%09d", stamp, now.Nanosecond())
	}
	return stamp
}
