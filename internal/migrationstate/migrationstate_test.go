package migrationstate

import (
	"context"
	"testing"

	"github.com/heymumford/ztoq-migrate/internal/controlplane"
	"github.com/heymumford/ztoq-migrate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransform_RequiresExtractionCompleted(t *testing.T) {
	ctx := context.Background()
	s := store.New()
	st, err := Load(ctx, s, "PROJ")
	require.NoError(t, err)

	assert.True(t, st.CanExtract())
	assert.False(t, st.CanTransform())

	require.NoError(t, st.UpdateExtraction(ctx, controlplane.StatusCompleted, ""))
	assert.True(t, st.CanTransform())
}

func TestUpdateCompleted_ClearsError(t *testing.T) {
	ctx := context.Background()
	s := store.New()
	st, err := Load(ctx, s, "PROJ")
	require.NoError(t, err)

	require.NoError(t, st.UpdateExtraction(ctx, controlplane.StatusFailed, "boom"))
	assert.Equal(t, "boom", st.Current().ErrorMessage)

	require.NoError(t, st.UpdateExtraction(ctx, controlplane.StatusCompleted, "boom"))
	assert.Empty(t, st.Current().ErrorMessage)
}

func TestMetadataDict_InvalidJSONReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := store.New()
	st, err := Load(ctx, s, "PROJ")
	require.NoError(t, err)
	st.current.MetaData = []byte("not json")
	assert.Empty(t, st.MetadataDict())
}
