package stack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatIdempotent(t *testing.T) {
	cs := captureFromHelper()

	var a, b strings.Builder
	cs.Format(&a, FormatOptions{Indent: "  "})
	cs.Format(&b, FormatOptions{Indent: "  "})

	require.NotEmpty(t, a.String())
	require.Equal(t, a.String(), b.String())
	require.Equal(t, cs.String(), cs.String())
}

func TestFormatUnresolvableAddress(t *testing.T) {
	// An address belonging to no known module still renders as a bare
	// address line instead of failing the whole dump.
	var cs Callstack
	cs.pcs[0] = 1
	cs.n = 1

	var buf strings.Builder
	cs.Format(&buf, FormatOptions{Indent: "  "})

	line := strings.TrimRight(buf.String(), "\n")
	require.True(t, strings.HasPrefix(line, "  0x0000000000000001"))
	require.NotContains(t, line, ".go")
}

func TestFormatContent(t *testing.T) {
	cs := captureFromHelper()

	out := cs.String()
	require.Contains(t, out, "captureFromHelper")
	require.Contains(t, out, ".go:")
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		ok := strings.HasPrefix(line, "  0x") || strings.Contains(line, "...")
		require.True(t, ok, "unexpected line: %q", line)
	}
}

func TestFormatSkipIsDisplayOnly(t *testing.T) {
	cs := captureFromHelper()

	var full, trimmed strings.Builder
	cs.Format(&full, FormatOptions{})
	cs.Format(&trimmed, FormatOptions{Skip: 1})

	// The capture itself kept the frame; Skip only trims output.
	require.Contains(t, full.String(), "captureFromHelper")
	require.NotContains(t, trimmed.String(), "captureFromHelper")

	// Skipping everything renders nothing.
	var empty strings.Builder
	cs.Format(&empty, FormatOptions{Skip: cs.Depth()})
	require.Equal(t, "", empty.String())
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "relative/path.go", normalizePath("relative/path.go"))
	require.Equal(t, "/no/such/prefix/lib.so", normalizePath("/no/such/prefix/lib.so"))
}
