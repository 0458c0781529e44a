package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short", in: "hello", limit: 10, want: "hello"},
		{name: "cut", in: "hello world", limit: 5, want: "hello"},
		{name: "multibyte", in: "héllo", limit: 2, want: "hé"},
		{name: "disabled", in: "hello", limit: 0, want: "hello"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, TruncateRunes(tc.in, tc.limit))
		})
	}
}

func TestCollapseSpaces(t *testing.T) {
	require.Equal(t, "a b c", CollapseSpaces("  a \n\tb   c "))
}
