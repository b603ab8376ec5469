package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	require.Equal(t, Ident("docs_search"), Ident("docs.search").Sanitize())
	require.Equal(t, Ident("already-ok_1"), Ident("already-ok_1").Sanitize())
	require.Len(t, Ident(strings.Repeat("x", 80)).Sanitize().String(), 64)
}
