package uuid

import (
	"errors"
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
	assert.Less(t, id1, id2, "v7 ids sort by creation time")
}

func TestGeneratorZeroValue(t *testing.T) {
	t.Parallel()

	var gen Generator
	id, err := gen.NewRunID()
	require.NoError(t, err)
	assert.NotEqual(t, goUUID.Nil, id)
}

func TestGeneratorError(t *testing.T) {
	t.Parallel()

	boom := errors.New("entropy exhausted")
	gen := &Generator{newV7: func() (goUUID.UUID, error) { return goUUID.Nil, boom }}
	_, err := gen.NewID()
	require.ErrorIs(t, err, boom)
}
