package uuid

import (
	"strings"
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	_, err = goUUID.Parse(id1)
	require.NoError(t, err)
}

func TestGeneratorNewHolderID(t *testing.T) {
	t.Parallel()

	gen := New()
	holder, err := gen.NewHolderID("worker")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(holder, "worker-"))

	bare, err := gen.NewHolderID("")
	require.NoError(t, err)
	_, err = goUUID.Parse(bare)
	require.NoError(t, err)
}
