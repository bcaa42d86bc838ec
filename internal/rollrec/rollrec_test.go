package rollrec

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `roll	"example.com"
	zonename	"example.com"
	zonefile	"example.com.zone"
	keyrec		"example.com.krf"
	kskphase	"0"
	zskphase	"0"
	phasestart	"new"
	maxerrors	"3"
	curerrors	"0"
	# optional records for RFC5011 rolling:
	istrustanchor	"no"
	holddowntime	"30D"

skip	"other.com"
	zonename	"other.com"
	zonefile	"other.com.zone"
	keyrec		"other.com.krf"
	kskphase	"0"
	zskphase	"0"
	phasestart	"new"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "example.rollrec")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	return path
}

func TestLoadAndActive(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, st.Records, 2)

	active := st.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "example.com", active[0].Name())
	assert.False(t, active[0].IsTrustAnchor())
}

func TestPhaseTypeAndInvariant(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	r, _ := st.Get("example.com")

	assert.Equal(t, "", r.PhaseType())
	r.SetKSKPhase(3)
	assert.Equal(t, "ksk", r.PhaseType())
	// Invariant: kskphase > 0 => zskphase == 0.
	assert.Equal(t, 0, r.ZSKPhase())
}

func TestRollstampSetsRollsecsToNow(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	r, _ := st.Get("example.com")

	before := time.Now().Unix()
	r.Rollstamp("ksk")
	after := time.Now().Unix()

	v, ok := r.Get("ksk_rollsecs")
	require.True(t, ok)
	secs, err := strconv.ParseInt(v, 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, secs, before)
	assert.LessOrEqual(t, secs, after)
}

func TestZoneErrTripsSkipPastMaxErrors(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	r, _ := st.Get("example.com")

	require.True(t, r.IsActive())
	r.ZoneErr()
	r.ZoneErr()
	assert.True(t, r.IsActive())
	r.ZoneErr()
	assert.True(t, r.IsActive())
	r.ZoneErr()
	assert.False(t, r.IsActive())
}

func TestRoundTrip(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, sample, st.Render())
}

func TestHoldDownLeftUsesConfiguredDays(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	r, _ := st.Get("example.com")
	r.SetTime()

	left := r.HoldDownLeft()
	assert.InDelta(t, (30 * 24 * time.Hour).Seconds(), left.Seconds(), 5)
}

func TestLoadZoneRunsReloader(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	r, _ := st.Get("example.com")

	assert.NoError(t, r.LoadZone("true", nil))
	assert.Error(t, r.LoadZone("false", nil))
}

func TestMergeConcatenatesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.rollrec")
	b := filepath.Join(dir, "b.rollrec")
	require.NoError(t, os.WriteFile(a, []byte("roll\t\"a.com\"\n\tzonefile\t\"a.com.zone\"\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("skip\t\"b.com\"\n\tzonefile\t\"b.com.zone\"\n"), 0644))

	merged, err := Merge(dir, a, b)
	require.NoError(t, err)
	require.Len(t, merged.Records, 2)
	assert.Equal(t, "a.com", merged.Records[0].Name())
	assert.Equal(t, "b.com", merged.Records[1].Name())
	assert.False(t, merged.Records[1].IsActive())
}

func TestSplitGroupsByField(t *testing.T) {
	dir := t.TempDir()
	src := "roll\t\"a.com\"\n\tdirectory\t\"/zones/x\"\n" +
		"\nroll\t\"b.com\"\n\tdirectory\t\"/zones/y\"\n" +
		"\nroll\t\"c.com\"\n\tdirectory\t\"/zones/x\"\n"
	path := filepath.Join(dir, "all.rollrec")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	st, err := Load(path, dir)
	require.NoError(t, err)

	groups := st.Split("directory")
	require.Len(t, groups, 2)
	require.Len(t, groups["/zones/x"].Records, 2)
	require.Len(t, groups["/zones/y"].Records, 1)
}

func TestKSKWaitPhasesIncludeHoldDownForTrustAnchors(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path, filepath.Dir(path))
	require.NoError(t, err)
	r, _ := st.Get("example.com")
	r.Set("maxttl", "60")
	r.Set("istrustanchor", "yes")
	r.SetTime()
	start, ok := r.PhaseStartDate()
	require.True(t, ok)

	// The sample configures holddowntime 30D; every KSK wait phase
	// (1, 3, 6) must include it for a trust anchor.
	want := start.Add(60*time.Second + 30*24*time.Hour)
	for _, phase := range []int{1, 3, 6} {
		r.SetKSKPhase(phase)
		end, ok := r.PhaseEndDate()
		require.True(t, ok, "phase %d", phase)
		assert.Equal(t, want, end, "phase %d", phase)
	}

	// A non-trust-anchor zone waits maxttl alone.
	r.Set("istrustanchor", "no")
	r.SetKSKPhase(1)
	end, ok := r.PhaseEndDate()
	require.True(t, ok)
	assert.Equal(t, start.Add(60*time.Second), end)
}
