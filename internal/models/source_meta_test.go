package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceMetaValueStampsVersion(t *testing.T) {
	m := SourceMeta{
		Feed:        FeedMeta{ExternalID: "P1", FetchedAt: time.Now().UTC()},
		Translation: TranslationState{ContentHash: "abc"},
	}

	v, err := m.Value()
	require.NoError(t, err)

	var decoded SourceMeta
	require.NoError(t, decoded.Scan(v))
	assert.Equal(t, SourceMetaVersion, decoded.Version)
	assert.Equal(t, "P1", decoded.Feed.ExternalID)
	assert.Equal(t, "abc", decoded.Translation.ContentHash)
}

func TestSourceMetaScanValidation(t *testing.T) {
	var m SourceMeta

	// NULL column yields an empty current-version blob.
	require.NoError(t, m.Scan(nil))
	assert.Equal(t, SourceMetaVersion, m.Version)

	// Pre-versioning rows are upgraded in place.
	require.NoError(t, m.Scan([]byte(`{"feed":{"externalId":"P1","fetchedAt":"2024-01-01T00:00:00Z"}}`)))
	assert.Equal(t, 1, m.Version)
	assert.Equal(t, "P1", m.Feed.ExternalID)

	// Blobs written by a newer deploy are rejected, not silently reparsed.
	err := m.Scan([]byte(`{"version":99}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")

	assert.Error(t, m.Scan([]byte(`not json`)))
	assert.Error(t, m.Scan(42))
}
