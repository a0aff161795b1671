package element

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPath_String(t *testing.T) {
	tests := []struct {
		name string
		path Path
		want string
	}{
		{"root", Path{}, ""},
		{"single child", Path{0}, "0"},
		{"window child", Path{-1, 0, 3}, "-1/0/3"},
		{"main window", Path{MainWindowIndex}, "-10000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.path.String())
		})
	}
}

func TestParsePath_RoundTrip(t *testing.T) {
	tests := []Path{
		{},
		{0},
		{-1, 2, 5},
		{MainWindowIndex, 0, 0, 7},
	}

	for _, p := range tests {
		parsed, err := ParsePath(p.String())
		require.NoError(t, err)
		require.True(t, p.Equal(parsed), "round trip of %q", p.String())
	}
}

func TestParsePath_Malformed(t *testing.T) {
	for _, s := range []string{"a", "1/x", "1//2", "1/2/"} {
		_, err := ParsePath(s)
		require.Error(t, err, "input %q", s)
	}
}

func TestPath_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Path
		want int
	}{
		{"equal", Path{1, 2}, Path{1, 2}, 0},
		{"prefix sorts first", Path{1}, Path{1, 0}, -1},
		{"negative before positive", Path{-1}, Path{0}, -1},
		{"main window first among windows", Path{MainWindowIndex}, Path{-1}, -1},
		{"componentwise", Path{0, 5}, Path{0, 6}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.a.Compare(tt.b))
			require.Equal(t, -tt.want, tt.b.Compare(tt.a))
		})
	}
}

func TestPath_Child_DoesNotAliasParent(t *testing.T) {
	parent := make(Path, 1, 4)
	parent[0] = -1

	c1 := parent.Child(0)
	c2 := parent.Child(1)

	require.Equal(t, "-1/0", c1.String())
	require.Equal(t, "-1/1", c2.String())
}

// Property: String/ParsePath round-trips for arbitrary index sequences.
func TestPath_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		indices := rapid.SliceOfN(rapid.IntRange(-10000, 10000), 0, 8).Draw(t, "indices")
		p := Path(indices)

		parsed, err := ParsePath(p.String())
		require.NoError(t, err)
		require.True(t, p.Equal(parsed))
	})
}
