package interval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInt64Provider_ScenarioFromSpec(t *testing.T) {
	p := NewInt64Provider(100, 0)

	cases := []struct {
		value    int64
		wantName string
	}{
		{5, "0"},
		{105, "100"},
		{-95, "-100"},
		{205, "200"},
	}
	for _, c := range cases {
		iv := p.GetInterval(c.value)
		require.Equal(t, c.wantName, p.Name(iv), "value %d", c.value)
	}
}

func TestInt64Provider_IntervalContainsValue(t *testing.T) {
	p := NewInt64Provider(37, -15)
	for v := int64(-500); v <= 500; v += 7 {
		iv := p.GetInterval(v)
		require.True(t, iv.Lower <= v && v < iv.Upper, "interval %v must contain %d", iv, v)
	}
}

func TestInt64Provider_NameRoundTrips(t *testing.T) {
	p := NewInt64Provider(50, 10)
	for v := int64(-300); v <= 300; v += 13 {
		iv := p.GetInterval(v)
		name := p.Name(iv)
		parsed, ok := p.Parse(name)
		require.True(t, ok)
		require.Equal(t, iv, parsed, "round trip for value %d", v)
	}
}

func TestFloat64Provider_IntervalContainsValue(t *testing.T) {
	p := NewFloat64Provider(2.5, 0)
	for _, v := range []float64{-12.3, -1.1, 0, 0.5, 3.7, 100.25} {
		iv := p.GetInterval(v)
		require.True(t, iv.Lower <= v && v < iv.Upper, "interval %v must contain %v", iv, v)
		parsed, ok := p.Parse(p.Name(iv))
		require.True(t, ok)
		require.Equal(t, iv, parsed)
	}
}
