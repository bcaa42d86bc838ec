package tabrec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	src := "roll\t\"example.com\"\n" +
		"\tzonename\t\"example.com\"\n" +
		"\tkskphase\t\"0\"\n" +
		"\tkeyrec\t\t\"example.com.krf\"\n" +
		"\t# optional records for RFC5011 rolling:\n" +
		"\tistrustanchor\t\"no\"\n" +
		"\nskip\t\"other.com\"\n" +
		"\tzonename\t\"other.com\"\n"

	f, err := Parse(strings.NewReader(src), "roll", "skip")
	require.NoError(t, err)
	require.Len(t, f.Sections, 2)

	assert.Equal(t, src, f.Render())
}

func TestFieldPadding(t *testing.T) {
	assert.Equal(t, "\tzonename\t\"x\"\n", formatField("zonename", "x"))
	assert.Equal(t, "\tdir\t\t\"x\"\n", formatField("dir", "x"))
}

func TestSetPreservesOrder(t *testing.T) {
	f := NewFile()
	s := f.AddSection("roll", "z")
	s.Set("a", "1")
	s.Set("b", "2")
	s.Set("a", "3")
	require.Len(t, s.Fields, 2)
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", v)
}
