// Package rollrec implements the typed view over a rollrec file: roll/skip
// records, phase state, and the derived timers (maxttl, phase end,
// hold-down) the phase engine and expiration evaluator rely on.
package rollrec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/miekg/dns"

	"rollerd/internal/keyrec"
	"rollerd/internal/tabrec"
)

// DateFormat is the fixed human-readable timestamp format used by
// phasestart and the *_rolldate fields: "Www Mmm DD HH:MM:SS YYYY".
const DateFormat = "Mon Jan  2 15:04:05 2006"

const newMarker = "new"

var holddownRe = regexp.MustCompile(`(\d+)D`)

const defaultHoldDown = 60 * 24 * time.Hour

// Phase durations keyed by phase number, per the §4.G table. A phase
// with no entry (e.g. phase 0) has no end date.
type phaseDuration func(r *Record) time.Duration

var zskPhaseDuration = map[int]phaseDuration{
	1: func(r *Record) time.Duration { return time.Duration(r.MaxTTL()) * time.Second },
	2: func(r *Record) time.Duration { return 0 },
	3: func(r *Record) time.Duration { return time.Duration(r.MaxTTL()) * time.Second },
	4: func(r *Record) time.Duration { return 0 },
}

var kskPhaseDuration = map[int]phaseDuration{
	1: (*Record).kskCacheWait,
	2: func(r *Record) time.Duration { return 0 },
	3: (*Record).kskCacheWait,
	4: func(r *Record) time.Duration { return 0 },
	5: func(r *Record) time.Duration { return 0 },
	6: (*Record).kskCacheWait,
	7: func(r *Record) time.Duration { return 0 },
}

var zskPhaseDescription = map[int]string{
	1: "wait for old zone data to expire from caches",
	2: "sign the zone with the KSK and Published ZSK",
	3: "wait for old zone data to expire from caches",
	4: "adjust keys in keyrec and sign the zone with new Current ZSK",
}

var kskPhaseDescription = map[int]string{
	1: "wait for cache data to expire",
	2: "generate a new (published) KSK and load zone",
	3: "wait for the old DNSKEY RRset to expire from caches",
	4: "transfer new keyset to the parent",
	5: "wait for parent to publish DS record",
	6: "wait for cache data to expire",
	7: "roll the KSKs and load the zone",
}

// Record is one "roll" or "skip" section: a single managed zone's
// rollover state.
type Record struct {
	sec     *tabrec.Section
	baseDir string
	active  bool

	keyrecCache *keyrec.Store
}

// Name is the zone name.
func (r *Record) Name() string { return r.sec.Name }

// IsActive reports whether this is a "roll" (true) or "skip" (false) record.
func (r *Record) IsActive() bool { return r.active }

// SetActive flips the record between "roll" and "skip".
func (r *Record) SetActive(active bool) { r.active = active }

// Type returns "roll" or "skip", matching IsActive.
func (r *Record) Type() string {
	if r.active {
		return "roll"
	}
	return "skip"
}

func (r *Record) Get(key string) (string, bool) { return r.sec.Get(key) }

func (r *Record) GetDefault(key, def string) string { return r.sec.GetDefault(key, def) }

func (r *Record) Set(key, value string) { r.sec.Set(key, value) }

// Directory is the zone's working directory: its own directory field,
// or the daemon's base directory if unset.
func (r *Record) Directory() string { return r.directory() }

func (r *Record) directory() string {
	if d, ok := r.sec.Get("directory"); ok && d != "" {
		return d
	}
	return r.baseDir
}

func (r *Record) fullPath(key string) string {
	v := r.sec.GetDefault(key, "")
	if v == "" || filepath.IsAbs(v) {
		return v
	}
	dir := r.directory()
	if dir == "" {
		return v
	}
	return filepath.Join(dir, v)
}

// ZoneFilePath is the zone's unsigned zone file.
func (r *Record) ZoneFilePath() string { return r.fullPath("zonefile") }

// KeyrecPath is the zone's keyrec file.
func (r *Record) KeyrecPath() string { return r.fullPath("keyrec") }

// KSKPhase is the current KSK rollover phase, 0..7.
func (r *Record) KSKPhase() int {
	v, _ := strconv.Atoi(r.sec.GetDefault("kskphase", "0"))
	return v
}

// SetKSKPhase sets the kskphase field.
func (r *Record) SetKSKPhase(phase int) { r.sec.Set("kskphase", strconv.Itoa(phase)) }

// ZSKPhase is the current ZSK rollover phase, 0..4.
func (r *Record) ZSKPhase() int {
	v, _ := strconv.Atoi(r.sec.GetDefault("zskphase", "0"))
	return v
}

// SetZSKPhase sets the zskphase field.
func (r *Record) SetZSKPhase(phase int) { r.sec.Set("zskphase", strconv.Itoa(phase)) }

// PhaseType returns "ksk" if KSKPhase != 0, else "zsk" if ZSKPhase != 0,
// else "".
func (r *Record) PhaseType() string {
	if r.KSKPhase() != 0 {
		return "ksk"
	}
	if r.ZSKPhase() != 0 {
		return "zsk"
	}
	return ""
}

// Phase is the currently active phase number for PhaseType, or 0 if
// neither class is mid-rollover.
func (r *Record) Phase() int {
	switch r.PhaseType() {
	case "ksk":
		return r.KSKPhase()
	case "zsk":
		return r.ZSKPhase()
	}
	return 0
}

// PhaseArgs builds the "KSK phase N -signonly" / "ZSK phase N -signonly"
// extra-arg string used by the always-sign option.
func (r *Record) PhaseArgs() string {
	if r.KSKPhase() != 0 {
		return fmt.Sprintf("KSK phase %d -signonly", r.KSKPhase())
	}
	if r.ZSKPhase() != 0 {
		return fmt.Sprintf("ZSK phase %d -signonly", r.ZSKPhase())
	}
	return " -signonly"
}

// PhaseDescription is the human-readable text for the current phase.
func (r *Record) PhaseDescription() string {
	switch r.PhaseType() {
	case "ksk":
		return kskPhaseDescription[r.KSKPhase()]
	case "zsk":
		return zskPhaseDescription[r.ZSKPhase()]
	}
	return ""
}

// IsTrustAnchor reports the istrustanchor field (yes/1 => true).
func (r *Record) IsTrustAnchor() bool {
	v := strings.ToLower(r.sec.GetDefault("istrustanchor", "no"))
	return v == "yes" || v == "1"
}

// Keyrec lazily loads the referenced keyrec file, if it exists.
func (r *Record) Keyrec() (*keyrec.Store, error) {
	if r.keyrecCache != nil {
		return r.keyrecCache, nil
	}
	path := r.KeyrecPath()
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	st, err := keyrec.Load(path)
	if err != nil {
		return nil, fmt.Errorf("rollrec: load keyrec for %s: %w", r.Name(), err)
	}
	r.keyrecCache = st
	return st, nil
}

// ZoneErr increments curerrors; if it exceeds maxerrors (and maxerrors
// > 0) the record is marked inactive.
func (r *Record) ZoneErr() {
	maxErrs, _ := strconv.Atoi(r.sec.GetDefault("maxerrors", "0"))
	if maxErrs <= 0 {
		return
	}
	cur, _ := strconv.Atoi(r.sec.GetDefault("curerrors", "0"))
	cur++
	r.sec.Set("curerrors", strconv.Itoa(cur))
	if cur > maxErrs {
		r.active = false
	}
}

// ClearZoneErr resets curerrors to 0.
func (r *Record) ClearZoneErr() { r.sec.Set("curerrors", "0") }

// Rollstamp sets {which}_rolldate (human form) and {which}_rollsecs (unix
// seconds) to now. which is "ksk" or "zsk".
func (r *Record) Rollstamp(which string) {
	now := time.Now()
	r.sec.Set(which+"_rolldate", now.UTC().Format(DateFormat))
	r.sec.Set(which+"_rollsecs", strconv.FormatInt(now.Unix(), 10))
}

// SetTime sets phasestart to now in the canonical human format. The
// human timestamps are always rendered from the UTC clock so that
// PhaseStartDate's locationless parse reads back the same instant
// regardless of the daemon's local zone.
func (r *Record) SetTime() {
	r.sec.Set("phasestart", time.Now().UTC().Format(DateFormat))
}

// PhaseStartDate parses the phasestart field; the literal "new" maps to
// the zero time.
func (r *Record) PhaseStartDate() (time.Time, bool) {
	v := r.sec.GetDefault("phasestart", newMarker)
	if v == newMarker || v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateFormat, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MaxTTL parses the zone's unsigned zone file, takes the maximum TTL
// across all rdatasets, doubles it, caches it as the maxttl field, and
// returns the doubled value.
func (r *Record) MaxTTL() int {
	if cached, ok := r.sec.Get("maxttl"); ok {
		if v, err := strconv.Atoi(cached); err == nil && v > 0 {
			return v
		}
	}
	ttl := r.computeMaxTTL()
	doubled := ttl * 2
	r.sec.Set("maxttl", strconv.Itoa(doubled))
	return doubled
}

func (r *Record) computeMaxTTL() int {
	f, err := os.Open(r.ZoneFilePath())
	if err != nil {
		return 0
	}
	defer f.Close()

	zp := dns.NewZoneParser(f, dns.Fqdn(r.Name()), "")
	max := uint32(0)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if rr.Header().Ttl > max {
			max = rr.Header().Ttl
		}
	}
	return int(max)
}

// TTLExpire reports whether now is at or past PhaseEndDate.
func (r *Record) TTLExpire() bool {
	end, ok := r.PhaseEndDate()
	if !ok {
		return false
	}
	return !time.Now().Before(end)
}

// TTLLeft is the time remaining to PhaseEndDate, clamped at >= 0.
func (r *Record) TTLLeft() time.Duration {
	end, ok := r.PhaseEndDate()
	if !ok {
		return 0
	}
	left := time.Until(end)
	if left < 0 {
		return 0
	}
	return left
}

func (r *Record) holdDown() time.Duration {
	v := r.sec.GetDefault("holddowntime", "")
	m := holddownRe.FindStringSubmatch(v)
	if m == nil {
		return defaultHoldDown
	}
	days, err := strconv.Atoi(m[1])
	if err != nil {
		return defaultHoldDown
	}
	return time.Duration(days) * 24 * time.Hour
}

// HoldDownLeft is the time from phasestart until phasestart+holddowntime,
// clamped at >= 0.
func (r *Record) HoldDownLeft() time.Duration {
	start, ok := r.PhaseStartDate()
	if !ok {
		return 0
	}
	end := start.Add(r.holdDown())
	left := time.Until(end)
	if left < 0 {
		return 0
	}
	return left
}

// kskCacheWait is the cache-expiry wait applied to every KSK wait
// phase (1, 3 and 6): maxttl, plus the configured hold-down when the
// zone is a trust anchor (RFC 5011). The reference daemon's phasewait
// checks the hold-down on all three waits, not just phase 3.
func (r *Record) kskCacheWait() time.Duration {
	wait := time.Duration(r.MaxTTL()) * time.Second
	if r.IsTrustAnchor() {
		wait += r.holdDown()
	}
	return wait
}

// PhaseEndDate is PhaseStartDate plus the phase-specific duration from
// the §4.G table.
func (r *Record) PhaseEndDate() (time.Time, bool) {
	start, ok := r.PhaseStartDate()
	if !ok {
		return time.Time{}, false
	}
	var table map[int]phaseDuration
	switch r.PhaseType() {
	case "ksk":
		table = kskPhaseDuration
	case "zsk":
		table = zskPhaseDuration
	default:
		return time.Time{}, false
	}
	fn, ok := table[r.Phase()]
	if !ok {
		return time.Time{}, false
	}
	return start.Add(fn(r)), true
}

// PhaseProgress is the percentage of the current phase elapsed, 0-100.
func (r *Record) PhaseProgress() int {
	end, ok := r.PhaseEndDate()
	if !ok {
		return 0
	}
	if time.Now().After(end) {
		return 100
	}
	start, _ := r.PhaseStartDate()
	total := end.Sub(start)
	if total <= 0 {
		return 100
	}
	elapsed := time.Since(start)
	return int(elapsed * 100 / total)
}

// PhaseLeft is the remaining time in the current phase.
func (r *Record) PhaseLeft() time.Duration {
	end, ok := r.PhaseEndDate()
	if !ok {
		return 0
	}
	left := time.Until(end)
	if left < 0 {
		return 0
	}
	return left
}

// Store is a parsed rollrec file: an ordered collection of Records. The
// byName index is a concurrent-map rather than a plain map because the
// scan loop and the control channel both resolve zones by name against
// the same Store; the coarse Daemon mutex (see internal/daemon) still
// serializes the load/scan/write cycle, but lookups alone don't need to
// wait on it.
type Store struct {
	file    *tabrec.File
	path    string
	baseDir string

	Records []*Record
	byName  cmap.ConcurrentMap[string, *Record]
}

// Load parses the rollrec file at path. baseDir is the daemon's
// execution directory, used when a record has no directory field.
func Load(path, baseDir string) (*Store, error) {
	f, err := tabrec.ParseFile(path, "roll", "skip")
	if err != nil {
		return nil, fmt.Errorf("rollrec: %w", err)
	}
	st := &Store{file: f, path: path, baseDir: baseDir, byName: cmap.New[*Record]()}
	for _, sec := range f.Sections {
		rec := &Record{sec: sec, baseDir: baseDir, active: sec.Type == "roll"}
		st.Records = append(st.Records, rec)
		st.byName.Set(rec.Name(), rec)
	}
	return st, nil
}

// Get looks up a record by zone name.
func (st *Store) Get(name string) (*Record, bool) {
	return st.byName.Get(name)
}

// Active returns all "roll" records, in file order.
func (st *Store) Active() []*Record {
	var out []*Record
	for _, r := range st.Records {
		if r.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

// syncSectionTypes rewrites each record's underlying section Type to
// match its current active flag ("roll" vs "skip") before serialization.
func (st *Store) syncSectionTypes() {
	for _, r := range st.Records {
		r.sec.Type = r.Type()
	}
}

// Write rewrites the rollrec file atomically.
func (st *Store) Write() error {
	st.syncSectionTypes()
	return st.file.WriteFile(st.path)
}

// Render returns the serialized rollrec text, for round-trip comparison.
func (st *Store) Render() string {
	st.syncSectionTypes()
	return st.file.Render()
}

// AbsorbFile appends every record from the rollrec file at path to st,
// preserving that file's record order. It returns how many records were
// added. Backs rollcmd_mergerrfs: the daemon absorbs the named files
// into its own store and writes the combined result back out.
func (st *Store) AbsorbFile(path string) (int, error) {
	other, err := Load(path, st.baseDir)
	if err != nil {
		return 0, err
	}
	for _, r := range other.Records {
		sec := st.file.AddSection(r.Type(), r.Name())
		for _, field := range r.sec.Fields {
			sec.Set(field.Key, field.Value)
			if field.CommentBefore != "" {
				sec.SetComment(field.Key, field.CommentBefore)
			}
		}
		nr := &Record{sec: sec, baseDir: st.baseDir, active: r.IsActive()}
		st.Records = append(st.Records, nr)
		st.byName.Set(nr.Name(), nr)
	}
	return len(other.Records), nil
}

// Merge combines multiple rollrec files into a single in-memory Store,
// preserving each file's record order and concatenating files in the
// order given.
func Merge(baseDir string, paths ...string) (*Store, error) {
	merged := &Store{file: tabrec.NewFile(), baseDir: baseDir, byName: cmap.New[*Record]()}
	for _, p := range paths {
		if _, err := merged.AbsorbFile(p); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// Split partitions the store's records into one Store per distinct value
// of groupField (e.g. "directory"), for rollcmd_splitrrf.
func (st *Store) Split(groupField string) map[string]*Store {
	groups := map[string]*Store{}
	for _, r := range st.Records {
		key := r.GetDefault(groupField, "")
		g, ok := groups[key]
		if !ok {
			g = &Store{file: tabrec.NewFile(), baseDir: st.baseDir, byName: cmap.New[*Record]()}
			groups[key] = g
		}
		sec := g.file.AddSection(r.Type(), r.Name())
		for _, field := range r.sec.Fields {
			sec.Set(field.Key, field.Value)
		}
		nr := &Record{sec: sec, baseDir: st.baseDir, active: r.IsActive()}
		g.Records = append(g.Records, nr)
		g.byName.Set(nr.Name(), nr)
	}
	return groups
}
