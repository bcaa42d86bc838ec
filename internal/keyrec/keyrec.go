// Package keyrec implements the typed view over a keyrec (.krf) file: zone,
// set and key sections, their cross-references, and the lifetime/validity
// computations derived from them.
package keyrec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"rollerd/internal/tabrec"
)

const dateFormat = "Mon Jan  2 15:04:05 2006"

var keytagRe = regexp.MustCompile(`.+\+(\d+)\+(\d+)`)

// Zone is a keyrec "zone" section.
type Zone struct {
	sec *tabrec.Section
	dir string

	ZSKCur, ZSKPub, ZSKNew *Set
	KSKCur, KSKPub         *Set
}

func (z *Zone) Name() string { return z.sec.Name }

func (z *Zone) fullPath(key string) string {
	v := z.sec.GetDefault(key, "")
	if v == "" || filepath.IsAbs(v) {
		return v
	}
	return filepath.Join(z.dir, v)
}

// ZoneFilePath is the unsigned zone file referenced by this zone section.
func (z *Zone) ZoneFilePath() string { return z.fullPath("zonefile") }

// SignedZonePath is the signed zone file referenced by this zone section.
func (z *Zone) SignedZonePath() string { return z.fullPath("signedzone") }

// SetTime stamps keyrec_signsecs/keyrec_signdate to now.
func (z *Zone) SetTime() {
	now := time.Now()
	z.sec.Set("keyrec_signsecs", strconv.FormatInt(now.Unix(), 10))
	z.sec.Set("keyrec_signdate", now.UTC().Format(dateFormat))
}

// Set is a keyrec "set" section: a named group of keys of one class/state.
type Set struct {
	sec  *tabrec.Section
	Zone *Zone
	Keys []*Key
}

func (s *Set) Name() string    { return s.sec.Name }
func (s *Set) SetType() string { return s.sec.GetDefault("set_type", "") }

// MinLifeKey returns the key with the smallest life in the set, ties
// broken by insertion order.
func (s *Set) MinLifeKey() *Key {
	var best *Key
	for _, k := range s.Keys {
		if best == nil || k.Life() < best.Life() {
			best = k
		}
	}
	return best
}

// SetTime stamps keyrec_setsecs/keyrec_setdate to now.
func (s *Set) SetTime() {
	now := time.Now()
	s.sec.Set("keyrec_setsecs", strconv.FormatInt(now.Unix(), 10))
	s.sec.Set("keyrec_setdate", now.UTC().Format(dateFormat))
}

// Key is a keyrec "key" section.
type Key struct {
	sec      *tabrec.Section
	dir      string
	Zone     *Zone
	contents string
}

func (k *Key) Name() string { return k.sec.Name }

// KeyType is the first 3 characters of keyrec_type ("zsk" or "ksk").
func (k *Key) KeyType() string {
	t := k.sec.GetDefault("keyrec_type", "")
	if len(t) < 3 {
		return t
	}
	return t[:3]
}

// PubType is the publication-state suffix of keyrec_type ("cur", "pub",
// "new", "rev", "obs").
func (k *Key) PubType() string {
	t := k.sec.GetDefault("keyrec_type", "")
	if len(t) < 4 {
		return ""
	}
	return t[3:]
}

// Life returns the key's configured lifetime in seconds.
func (k *Key) Life() int {
	v, _ := strconv.Atoi(k.sec.GetDefault(k.KeyType()+"life", "0"))
	return v
}

// Length returns the key's configured length in bits.
func (k *Key) Length() int {
	v, _ := strconv.Atoi(k.sec.GetDefault(k.KeyType()+"length", "0"))
	return v
}

// KeyTag extracts the numeric keytag from the trailing +NNN+TTTTT group
// of the key's name.
func (k *Key) KeyTag() (int, error) {
	m := keytagRe.FindStringSubmatch(k.Name())
	if m == nil {
		return 0, fmt.Errorf("keyrec: key %q has no keytag suffix", k.Name())
	}
	return strconv.Atoi(m[2])
}

func (k *Key) keyPath() string {
	v := k.sec.GetDefault("keypath", "")
	if filepath.IsAbs(v) {
		return v
	}
	return filepath.Join(k.dir, v)
}

func (k *Key) fileContents() (string, error) {
	if k.contents != "" {
		return k.contents, nil
	}
	data, err := os.ReadFile(k.keyPath())
	if err != nil {
		return "", fmt.Errorf("keyrec: read key file %s: %w", k.keyPath(), err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ";") {
			continue
		}
		lines = append(lines, strings.Trim(line, "\n "))
	}
	k.contents = strings.Join(lines, "")
	return k.contents, nil
}

// PublicKeyBytes is the base64-decoded public key material that follows
// the DNSKEY token in the key file.
func (k *Key) PublicKeyBytes() ([]byte, error) {
	contents, err := k.fileContents()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(contents)
	idx := -1
	for i, f := range fields {
		if f == "DNSKEY" {
			idx = i
			break
		}
	}
	if idx < 0 || idx+5 > len(fields) {
		return nil, fmt.Errorf("keyrec: no DNSKEY token in %s", k.keyPath())
	}
	b64 := strings.Join(fields[idx+4:], "")
	return base64.StdEncoding.DecodeString(b64)
}

// GenDate returns the time the key was generated.
func (k *Key) GenDate() time.Time {
	secs, _ := strconv.ParseInt(k.sec.GetDefault("keyrec_gensecs", "0"), 10, 64)
	return time.Unix(secs, 0).UTC()
}

// ValidUntil is GenDate + Life.
func (k *Key) ValidUntil() time.Time {
	return k.GenDate().Add(time.Duration(k.Life()) * time.Second)
}

// IsValid reports whether the key has not yet expired.
func (k *Key) IsValid() bool {
	return time.Now().UTC().Before(k.ValidUntil())
}

// SetTime stamps keyrec_gensecs/keyrec_gendate to now.
func (k *Key) SetTime() {
	now := time.Now()
	k.sec.Set("keyrec_gensecs", strconv.FormatInt(now.Unix(), 10))
	k.sec.Set("keyrec_gendate", now.UTC().Format(dateFormat))
}

// DNSKEYRR parses the key file's contents as a single DNSKEY resource
// record, for DS-record construction.
func (k *Key) DNSKEYRR() (*dns.DNSKEY, error) {
	contents, err := k.fileContents()
	if err != nil {
		return nil, err
	}
	rr, err := dns.NewRR(contents)
	if err != nil {
		return nil, fmt.Errorf("keyrec: parse DNSKEY for %s: %w", k.Name(), err)
	}
	dnskey, ok := rr.(*dns.DNSKEY)
	if !ok {
		return nil, fmt.Errorf("keyrec: %s is not a DNSKEY record", k.Name())
	}
	return dnskey, nil
}

// ToDS builds the DS record (for the given digest algorithm, e.g.
// dns.SHA256) that a parent zone would publish for this key.
func (k *Key) ToDS(digest uint8) (*dns.DS, error) {
	dnskey, err := k.DNSKEYRR()
	if err != nil {
		return nil, err
	}
	return dnskey.ToDS(digest), nil
}

// IsSigned reports whether the zone's signed zone file's DNSKEY RRset
// contains a record matching this key's public key bytes.
func (k *Key) IsSigned() (bool, error) {
	if k.Zone == nil {
		return false, fmt.Errorf("keyrec: key %s has no associated zone", k.Name())
	}
	want, err := k.PublicKeyBytes()
	if err != nil {
		return false, err
	}
	f, err := os.Open(k.Zone.SignedZonePath())
	if err != nil {
		return false, fmt.Errorf("keyrec: open signed zone: %w", err)
	}
	defer f.Close()

	origin := dns.Fqdn(k.Zone.Name())
	zp := dns.NewZoneParser(f, origin, "")
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		dnskey, isDNSKEY := rr.(*dns.DNSKEY)
		if !isDNSKEY {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(dnskey.PublicKey)
		if err != nil {
			continue
		}
		if bytes.Equal(got, want) {
			return true, nil
		}
	}
	if err := zp.Err(); err != nil {
		return false, fmt.Errorf("keyrec: parse signed zone: %w", err)
	}
	return false, nil
}

// Store is a parsed keyrec file: zones, sets and keys, cross-linked.
type Store struct {
	file *tabrec.File
	dir  string
	path string

	Zones map[string]*Zone
	Sets  map[string]*Set
	Keys  map[string]*Key
}

// Load parses the keyrec file at path and resolves all cross-references.
func Load(path string) (*Store, error) {
	f, err := tabrec.ParseFile(path, "zone", "set", "key")
	if err != nil {
		return nil, fmt.Errorf("keyrec: %w", err)
	}
	dir := filepath.Dir(path)
	st := &Store{
		file: f, dir: dir, path: path,
		Zones: map[string]*Zone{},
		Sets:  map[string]*Set{},
		Keys:  map[string]*Key{},
	}

	for _, sec := range f.Sections {
		switch sec.Type {
		case "zone":
			st.Zones[sec.Name] = &Zone{sec: sec, dir: dir}
		case "set":
			st.Sets[sec.Name] = &Set{sec: sec}
		case "key":
			st.Keys[sec.Name] = &Key{sec: sec, dir: dir}
		}
	}

	// Second pass: resolve cross-references exactly as the reference
	// parser does (zonename back-references, keys lists, set_type
	// back-pointers on the owning zone).
	for _, set := range st.Sets {
		if zn, ok := set.sec.Get("zonename"); ok {
			set.Zone = st.Zones[zn]
		}
		if keys, ok := set.sec.Get("keys"); ok && keys != "" {
			for _, kn := range strings.Fields(keys) {
				if k, ok := st.Keys[kn]; ok {
					set.Keys = append(set.Keys, k)
				}
			}
		}
		zone := set.Zone
		if zone == nil {
			continue
		}
		switch set.SetType() {
		case "zskcur":
			zone.ZSKCur = set
		case "zskpub":
			zone.ZSKPub = set
		case "zsknew":
			zone.ZSKNew = set
		case "kskcur":
			zone.KSKCur = set
		case "kskpub":
			zone.KSKPub = set
		}
	}
	for _, k := range st.Keys {
		if zn, ok := k.sec.Get("zonename"); ok {
			k.Zone = st.Zones[zn]
		}
	}

	return st, nil
}

// Write rewrites the keyrec file atomically.
func (st *Store) Write() error {
	return st.file.WriteFile(st.path)
}

// Render returns the serialized keyrec text, for round-trip comparison.
func (st *Store) Render() string {
	return st.file.Render()
}
