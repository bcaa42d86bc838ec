package keyrec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleKeyrec = `zone	"example.com"
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
	keypath		"Kexample.com.+008+11111.key"
	zonename	"example.com"
	zsklife		"2592000"
	zsklength	"2048"
	keyrec_gensecs	"1000000000"
	keyrec_gendate	"Sun Sep  9 01:46:40 2001"

key	"Kexample.com.+008+22222"
	keyrec_type	"kskcur"
	keypath		"Kexample.com.+008+22222.key"
	zonename	"example.com"
	ksklife		"31536000"
	ksklength	"2048"
	keyrec_gensecs	"1000000000"
	keyrec_gendate	"Sun Sep  9 01:46:40 2001"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "example.com.krf")
	require.NoError(t, os.WriteFile(path, []byte(sampleKeyrec), 0644))
	return path
}

func TestLoadResolvesCrossReferences(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path)
	require.NoError(t, err)

	zone := st.Zones["example.com"]
	require.NotNil(t, zone)
	require.NotNil(t, zone.ZSKCur)
	require.NotNil(t, zone.KSKCur)

	require.Len(t, zone.ZSKCur.Keys, 1)
	zskKey := zone.ZSKCur.Keys[0]
	assert.Equal(t, "zsk", zskKey.KeyType())
	assert.Equal(t, "cur", zskKey.PubType())
	assert.Equal(t, 2592000, zskKey.Life())

	tag, err := zskKey.KeyTag()
	require.NoError(t, err)
	assert.Equal(t, 11111, tag)

	assert.Same(t, zone, zskKey.Zone)
}

func TestMinLifeKeyPicksShortestLife(t *testing.T) {
	const src = `zone	"example.com"
	zonefile	"example.com.zone"
	signedzone	"example.com.zone.signed"

set	"example.com.zskpub"
	zonename	"example.com"
	set_type	"zskpub"
	keys		"Kexample.com.+008+11111 Kexample.com.+008+33333"

key	"Kexample.com.+008+11111"
	keyrec_type	"zskpub"
	keypath		"a.key"
	zonename	"example.com"
	zsklife		"500"

key	"Kexample.com.+008+33333"
	keyrec_type	"zskpub"
	keypath		"b.key"
	zonename	"example.com"
	zsklife		"100"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "x.krf")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	st, err := Load(path)
	require.NoError(t, err)

	set := st.Sets["example.com.zskpub"]
	require.NotNil(t, set)
	min := set.MinLifeKey()
	require.NotNil(t, min)
	assert.Equal(t, 100, min.Life())
}

func TestRenderRoundTrip(t *testing.T) {
	path := writeSample(t)
	st, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, sampleKeyrec, st.Render())
}

func TestPublicKeyBytesAndIsSigned(t *testing.T) {
	path := writeSample(t)
	dir := filepath.Dir(path)

	const keyLine = "example.com. 3600 IN DNSKEY 256 3 8 AwEAAcFz2eeRRZHv1C3mEvRzSkPAundEY4JqiZifKeQSjc1tkz0obZkE\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Kexample.com.+008+11111.key"),
		[]byte("; This is a zone-signing key.\n"+keyLine), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.com.zone.signed"),
		[]byte("$ORIGIN example.com.\n@ 3600 IN SOA ns1 host 1 2 3 4 5\n"+keyLine), 0644))

	st, err := Load(path)
	require.NoError(t, err)
	key := st.Keys["Kexample.com.+008+11111"]
	require.NotNil(t, key)

	raw, err := key.PublicKeyBytes()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	signed, err := key.IsSigned()
	require.NoError(t, err)
	assert.True(t, signed)
}
