package idgen

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
)

func TestUUID_OnlySupportsString(t *testing.T) {
	var g UUID
	id, err := g.Next(KindString)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = g.Next(KindInt)
	require.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestInteger_SaveAndLoadStateRoundTrips(t *testing.T) {
	g := NewInteger(0)
	for i := 0; i < 5; i++ {
		_, err := g.Next(KindLong)
		require.NoError(t, err)
	}

	meta := etree.NewElement("engine")
	g.SaveState(meta)

	restored := NewInteger(0)
	restored.LoadState(meta)

	next, err := restored.Next(KindLong)
	require.NoError(t, err)
	require.EqualValues(t, 6, next)
}

func TestInteger_AllKinds(t *testing.T) {
	g := NewInteger(0)

	i, err := g.Next(KindInt)
	require.NoError(t, err)
	require.IsType(t, int(0), i)

	l, err := g.Next(KindLong)
	require.NoError(t, err)
	require.IsType(t, int64(0), l)

	f, err := g.Next(KindFloat)
	require.NoError(t, err)
	require.IsType(t, float32(0), f)

	d, err := g.Next(KindDouble)
	require.NoError(t, err)
	require.IsType(t, float64(0), d)

	s, err := g.Next(KindString)
	require.NoError(t, err)
	require.Equal(t, "5", s)
}
