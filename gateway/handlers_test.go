package gateway

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	short := "short result"
	require.Equal(t, short, preview(short))

	long := strings.Repeat("a", previewLen+50)
	require.Equal(t, long[:previewLen], preview(long))

	// A multi-byte rune straddling the cut must not be split.
	straddled := strings.Repeat("a", previewLen-1) + "日本語"
	got := preview(straddled)
	require.True(t, utf8.ValidString(got))
	require.LessOrEqual(t, len(got), previewLen)
	require.Equal(t, strings.Repeat("a", previewLen-1), got)
}
