package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorProducesUniqueV7IDs(t *testing.T) {
	t.Parallel()

	gen := New()
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id, err := gen.NewID()
		require.NoError(t, err)

		parsed, err := goUUID.Parse(id)
		require.NoError(t, err)
		require.Equal(t, goUUID.Version(7), parsed.Version())

		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGeneratorIDsSortByCreationTime(t *testing.T) {
	t.Parallel()

	// V7 embeds a millisecond timestamp in the high bits, so ids minted in
	// sequence compare lexicographically in creation order.
	gen := New()
	first, err := gen.NewID()
	require.NoError(t, err)
	second, err := gen.NewID()
	require.NoError(t, err)
	require.LessOrEqual(t, first, second)
}
