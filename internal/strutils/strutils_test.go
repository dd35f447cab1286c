package strutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrListContains(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	haystack := []string{
		"openid",
		"profile",
		"email",
	}
	require.False(StrListContains(haystack, "offline_access"))
	require.True(StrListContains(haystack, "profile"))
	require.False(StrListContains(nil, "profile"))
}

func TestRemoveDuplicatesStable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		input           []string
		caseInsensitive bool
		want            []string
	}{
		{"empty", []string{}, false, []string{}},
		{"dupes", []string{"a", "b", "a"}, false, []string{"a", "b"}},
		{"case-sensitive", []string{"A", "b", "a"}, false, []string{"A", "b", "a"}},
		{"case-insensitive", []string{"A", "b", "a"}, true, []string{"A", "b"}},
		{"whitespace-dropped", []string{" ", "d", "c", "d"}, false, []string{"d", "c"}},
		{"trimmed-compare", []string{"Z ", " z", " z ", "y"}, true, []string{"Z ", "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveDuplicatesStable(tt.input, tt.caseInsensitive))
		})
	}
}
