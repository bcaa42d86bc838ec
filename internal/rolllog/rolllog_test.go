package rolllog

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelGating(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	l, err := New(path, Info, GMT)
	require.NoError(t, err)

	l.Log(TMI, "", "should not appear")
	l.Log(Info, "field", "should appear")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "field: should appear")
	assert.NotContains(t, string(data), "should not appear")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("phase")
	require.NoError(t, err)
	assert.Equal(t, Phase, lvl)

	lvl, err = ParseLevel("6")
	require.NoError(t, err)
	assert.Equal(t, Phase, lvl)

	_, err = ParseLevel("bogus")
	assert.Error(t, err)
}

func TestDashMapsToStdout(t *testing.T) {
	l, err := New("-", Info, GMT)
	require.NoError(t, err)
	assert.Equal(t, "-", l.File())
}

func TestPhasefFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	l, err := New(path, Phase, GMT)
	require.NoError(t, err)
	l.Phasef("ksk", 3)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), "KSK phase 3")
}
