package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkdownSectionsSplitsOnHeadings(t *testing.T) {
	md := `# Cleaning

Wipe the lens with a damp cloth.

Do not use solvents.

## Storage

Keep the camera in a dry place.
`
	sections := MarkdownSections(context.Background(), md)
	require.Len(t, sections, 2)
	require.Contains(t, sections[0], "Cleaning")
	require.Contains(t, sections[0], "damp cloth")
	require.Contains(t, sections[0], "solvents")
	require.Contains(t, sections[1], "Storage")
	require.Contains(t, sections[1], "dry place")
}

func TestMarkdownSectionsPreamble(t *testing.T) {
	md := `Intro paragraph before any heading.

# First

Body text.
`
	sections := MarkdownSections(context.Background(), md)
	require.Len(t, sections, 2)
	require.Equal(t, "Intro paragraph before any heading.", sections[0])
	require.Contains(t, sections[1], "First")
}

func TestMarkdownSectionsCodeAndDeepHeadings(t *testing.T) {
	md := "# Setup\n\n### Details\n\n```sh\nmake install\n```\n"
	sections := MarkdownSections(context.Background(), md)
	require.Len(t, sections, 1)
	require.Contains(t, sections[0], "Details")
	require.Contains(t, sections[0], "make install")
}

func TestMarkdownSectionsEmpty(t *testing.T) {
	require.Empty(t, MarkdownSections(context.Background(), ""))
}
