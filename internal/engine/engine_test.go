package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rollerd/internal/dispatch"
	"rollerd/internal/dspub"
	"rollerd/internal/rolllog"
	"rollerd/internal/rollrec"
)

// stubRunner answers every external command successfully, recording the
// calls made so tests can inspect them.
type stubRunner struct {
	mock.Mock
}

var _ dispatch.Runner = (*stubRunner)(nil)

func (s *stubRunner) Run(dir, name string, args ...string) (string, error) {
	call := s.Called(dir, name, args)
	return call.String(0), call.Error(1)
}

func newStubRunner() *stubRunner {
	r := new(stubRunner)
	r.On("Run", mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)
	return r
}

const rollrecFixture = `roll	"example.com"
	zonename	"example.com"
	zonefile	"example.com.zone"
	keyrec		"example.com.krf"
	kskphase	"0"
	zskphase	"0"
	phasestart	"new"
	maxerrors	"3"
	curerrors	"0"
	istrustanchor	"no"
`

// newFixture loads a single-record rollrec store with no backing keyrec
// file, and a Context wired to a stub runner and a dummy DS provider.
func newFixture(t *testing.T) (*rollrec.Record, *Context) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "example.rollrec")
	require.NoError(t, os.WriteFile(path, []byte(rollrecFixture), 0644))

	st, err := rollrec.Load(path, dir)
	require.NoError(t, err)
	rec, ok := st.Get("example.com")
	require.True(t, ok)

	logger, err := rolllog.New("-", rolllog.Never, rolllog.GMT)
	require.NoError(t, err)

	runner := newStubRunner()
	ctx := &Context{
		Logger:     logger,
		Signer:     &dispatch.Signer{Path: "zonesigner", DTConfig: "dt.conf", Runner: runner},
		Reloader:   &dispatch.Reloader{RNDC: "rndc", Runner: runner},
		Archiver:   &dispatch.Archiver{Path: "keyarch", DTConfig: "dt.conf", Runner: runner},
		Method:     RMKeyGen,
		AdminEmail: "nomail",
	}
	return rec, ctx
}

func TestExpiredNeverInterleaves(t *testing.T) {
	rec, ctx := newFixture(t)
	rec.SetKSKPhase(3) // KSK mid-rollover
	expired, err := Expired(ctx, rec, "zsk")
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestExpiredAlreadyMidRolloverReturnsExpiredTrue(t *testing.T) {
	rec, ctx := newFixture(t)
	rec.SetKSKPhase(5)
	expired, err := Expired(ctx, rec, "ksk")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestExpiredReportsErrorAndContinuesWhenKeyrecMissing(t *testing.T) {
	rec, ctx := newFixture(t)
	expired, err := Expired(ctx, rec, "ksk")
	require.NoError(t, err)
	assert.False(t, expired)
	v, ok := rec.Get("curerrors")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func writeKeyrecFixture(t *testing.T, dir string) string {
	t.Helper()
	const src = `zone	"example.com"
	zonefile	"example.com.zone"
	signedzone	"example.com.zone.signed"
	zskcur		"example.com.zskcur"
	kskcur		"example.com.kskcur"

set	"example.com.zskcur"
	zonename	"example.com"
	set_type	"zskcur"
	keys		"Kexample.com.+008+11111"

set	"example.com.kskcur"
	zonename	"example.com"
	set_type	"kskcur"
	keys		"Kexample.com.+008+22222"

key	"Kexample.com.+008+11111"
	keyrec_type	"zskcur"
	keypath		"zsk.key"
	zonename	"example.com"
	zsklife		"10"
	keyrec_gensecs	"1000000000"
	keyrec_gendate	"Sun Sep  9 01:46:40 2001"

key	"Kexample.com.+008+22222"
	keyrec_type	"kskcur"
	keypath		"ksk.key"
	zonename	"example.com"
	ksklife		"10"
	keyrec_gensecs	"1000000000"
	keyrec_gendate	"Sun Sep  9 01:46:40 2001"
`
	path := filepath.Join(dir, "example.com.krf")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zsk.key"), []byte("example.com. 3600 IN DNSKEY 256 3 8 AwEAAQ==\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ksk.key"), []byte("example.com. 3600 IN DNSKEY 257 3 8 AwEAAQ==\n"), 0644))
	return path
}

// withKeyrec points rec at a fully populated keyrec fixture whose keys
// are already far past their (tiny) configured lifetimes, so Expired
// reports true immediately under RMKeyGen.
func withKeyrec(t *testing.T, rec *rollrec.Record) {
	t.Helper()
	dir := rec.Directory()
	writeKeyrecFixture(t, dir)
}

func TestKSKHappyPathAdvancesAllPhases(t *testing.T) {
	rec, ctx := newFixture(t)
	withKeyrec(t, rec)
	d := NewKSKDispatcher()

	require.NoError(t, d.Step(ctx, rec)) // 0 -> 1
	assert.Equal(t, 1, rec.KSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 1 -> 2
	assert.Equal(t, 2, rec.KSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 2 -> 3 (signer -newpubksk)
	assert.Equal(t, 3, rec.KSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 3 -> 4
	assert.Equal(t, 4, rec.KSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 4 -> 5 (admin-email=nomail, skip notify)
	assert.Equal(t, 5, rec.KSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 5 -> 5 (blocks without auto-DS)
	assert.Equal(t, 5, rec.KSKPhase())
	rec.SetKSKPhase(6) // simulate the operator's rollcmd_dspub unblocking it
	rec.SetTime()

	require.NoError(t, d.Step(ctx, rec)) // 6 -> 7
	assert.Equal(t, 7, rec.KSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 7 -> 0 (signer -rollksk, archive, rollstamp)
	assert.Equal(t, 0, rec.KSKPhase())

	v, ok := rec.Get("ksk_rollsecs")
	require.True(t, ok)
	assert.NotEmpty(t, v)
	assert.Equal(t, "0", rec.GetDefault("curerrors", "0"))
}

func TestZSKHappyPathAdvancesAllPhases(t *testing.T) {
	rec, ctx := newFixture(t)
	withKeyrec(t, rec)
	d := NewZSKDispatcher()

	require.NoError(t, d.Step(ctx, rec)) // 0 -> 1
	assert.Equal(t, 1, rec.ZSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 1 -> 2
	assert.Equal(t, 2, rec.ZSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 2 -> 3 (signer -usezskpub)
	assert.Equal(t, 3, rec.ZSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 3 -> 4
	assert.Equal(t, 4, rec.ZSKPhase())

	require.NoError(t, d.Step(ctx, rec)) // 4 -> 0 (rollzsk then plain sign)
	assert.Equal(t, 0, rec.ZSKPhase())

	v, ok := rec.Get("zsk_rollsecs")
	require.True(t, ok)
	assert.NotEmpty(t, v)
}

func TestKSKPhase2SignerFailureBumpsZoneErrAndStaysPut(t *testing.T) {
	rec, ctx := newFixture(t)
	withKeyrec(t, rec)
	rec.SetKSKPhase(2)

	failing := new(stubRunner)
	failing.On("Run", mock.Anything, mock.Anything, mock.Anything).Return("boom", assertError())
	ctx.Signer.Runner = failing

	d := NewKSKDispatcher()
	require.NoError(t, d.Step(ctx, rec)) // Step swallows the error into a zone error
	assert.Equal(t, 2, rec.KSKPhase())
	assert.Equal(t, "1", rec.GetDefault("curerrors", "0"))
}

func assertError() error { return os.ErrInvalid }

func TestSkipOnErrorsFlipsRecordInactive(t *testing.T) {
	rec, ctx := newFixture(t)
	withKeyrec(t, rec)
	rec.SetKSKPhase(2)

	failing := new(stubRunner)
	failing.On("Run", mock.Anything, mock.Anything, mock.Anything).Return("", assertError())
	ctx.Signer.Runner = failing

	d := NewKSKDispatcher()
	require.True(t, rec.IsActive())
	require.NoError(t, d.Step(ctx, rec)) // curerrors 1
	require.NoError(t, d.Step(ctx, rec)) // curerrors 2
	assert.True(t, rec.IsActive())
	require.NoError(t, d.Step(ctx, rec)) // curerrors 3, > maxerrors(3)? still equal
	require.NoError(t, d.Step(ctx, rec)) // curerrors 4 > 3: trips
	assert.False(t, rec.IsActive())
}

func TestAlwaysSignSignsOnceWhenNothingElseSigned(t *testing.T) {
	rec, ctx := newFixture(t)
	withKeyrec(t, rec)
	ctx.AlwaysSign = true

	runner := ctx.Signer.Runner.(*stubRunner)
	ScanOnce(ctx, storeWith(t, rec), rolllog.Info)
	runner.AssertCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

// storeWith builds a one-record rollrec.Store view backed by rec's
// already-loaded section, for ScanOnce tests.
func storeWith(t *testing.T, rec *rollrec.Record) *rollrec.Store {
	t.Helper()
	dir := rec.Directory()
	path := filepath.Join(dir, "scan.rollrec")
	require.NoError(t, os.WriteFile(path, []byte(rollrecFixture), 0644))
	st, err := rollrec.Load(path, dir)
	require.NoError(t, err)
	return st
}

func TestInitialSigningScenario(t *testing.T) {
	rec, ctx := newFixture(t)
	ctx.AutoSign = true
	ctx.AutoDS = true
	ctx.ProviderKey = "key"
	ctx.DSProvider = dummyDSProvider{}

	st := storeWith(t, rec)
	ScanOnce(ctx, st, rolllog.Info)

	scanned, ok := st.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, 0, scanned.KSKPhase())
	assert.Equal(t, 0, scanned.ZSKPhase())
	_, ok = scanned.Get("ksk_rollsecs")
	assert.True(t, ok)
	_, ok = scanned.Get("zsk_rollsecs")
	assert.True(t, ok)
}

type dummyDSProvider struct{}

func (dummyDSProvider) Name() string { return "dummy" }
func (dummyDSProvider) DSPub(apiKey, zone string, localKeys []dspub.DSKey) (bool, error) {
	return true, nil
}

func TestPhaseOverrideRunsOperatorCommand(t *testing.T) {
	rec, ctx := newFixture(t)
	withKeyrec(t, rec)
	rec.SetKSKPhase(2)

	override := new(stubRunner)
	override.On("Run", mock.Anything, "/bin/custom-ksk2", mock.Anything).Return("ran", nil)
	ctx.Runner = override
	ctx.PhaseOverrides = map[string][]string{"ksk2": {"/bin/custom-ksk2", "-x"}}

	d := NewKSKDispatcher()
	require.NoError(t, d.Step(ctx, rec))
	assert.Equal(t, 3, rec.KSKPhase())
	override.AssertCalled(t, "Run", mock.Anything, "/bin/custom-ksk2", mock.Anything)
}

func TestKSKPhase4AutoDSCollectsRealKeysAndNotifiesProvider(t *testing.T) {
	rec, ctx := newFixture(t)
	withKeyrec(t, rec)
	ctx.AutoDS = true
	ctx.ProviderKey = "apikey"
	rec.SetKSKPhase(4)

	fake := &trackingProvider{}
	ctx.DSProvider = fake

	d := NewKSKDispatcher()
	require.NoError(t, d.Step(ctx, rec))
	assert.Equal(t, 5, rec.KSKPhase())
	require.Len(t, fake.keys, 2) // one zskcur + one kskcur key
}

type trackingProvider struct {
	keys []dspub.DSKey
}

func (p *trackingProvider) Name() string { return "tracking" }
func (p *trackingProvider) DSPub(apiKey, zone string, localKeys []dspub.DSKey) (bool, error) {
	p.keys = localKeys
	return true, nil
}

func TestRolloverRefusalInvariantHolds(t *testing.T) {
	rec, _ := newFixture(t)
	rec.SetKSKPhase(3)
	require.Equal(t, "ksk", rec.PhaseType())
	assert.Equal(t, 0, rec.ZSKPhase())
}
