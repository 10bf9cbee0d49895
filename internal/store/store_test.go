package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptroom/scriptroom/internal/core/document"
	"github.com/scriptroom/scriptroom/internal/core/observability/log"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "updates.db"), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collectUpdates(t *testing.T, d *document.Document) *[][]byte {
	t.Helper()
	updates := &[][]byte{}
	d.OnUpdate(func(payload []byte) {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		*updates = append(*updates, buf)
	})
	return updates
}

func TestStore_AppendAndLoadAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUpdate(ctx, "doc1", []byte("u1")))
	require.NoError(t, s.AppendUpdate(ctx, "doc1", []byte("u2")))
	require.NoError(t, s.AppendUpdate(ctx, "doc1", []byte("u3")))

	payloads, err := s.LoadAll(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("u1"), []byte("u2"), []byte("u3")}, payloads)
}

func TestStore_AppendIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendUpdate(ctx, "doc1", []byte("same bytes")))
	}

	count, err := s.UpdateCount(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_RoomsAreSeparate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUpdate(ctx, "doc1", []byte("one")))
	require.NoError(t, s.AppendUpdate(ctx, "doc2", []byte("two")))

	payloads, err := s.LoadAll(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte("one"), payloads[0])
}

func TestStore_RejectsEmptyAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.AppendUpdate(ctx, "", []byte("x")), ErrStore)
	assert.ErrorIs(t, s.AppendUpdate(ctx, "doc1", nil), ErrStore)
}

func TestStore_ReplayReproducesDocumentState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	original := document.New("doc1")
	updates := collectUpdates(t, original)
	require.NoError(t, original.Body().Insert(0, "hello"))
	require.NoError(t, original.Body().Insert(5, " world"))
	require.NoError(t, original.Tracks().Push("intro.mp3"))
	require.Len(t, *updates, 3)

	for _, u := range *updates {
		require.NoError(t, s.AppendUpdate(ctx, "doc1", u))
	}

	payloads, err := s.LoadAll(ctx, "doc1")
	require.NoError(t, err)

	replica := document.New("doc1")
	for _, payload := range payloads {
		require.NoError(t, replica.ApplyUpdate(payload))
	}

	wantBody, err := original.Body().String()
	require.NoError(t, err)
	gotBody, err := replica.Body().String()
	require.NoError(t, err)
	assert.Equal(t, wantBody, gotBody)

	wantTracks, err := original.Tracks().Strings()
	require.NoError(t, err)
	gotTracks, err := replica.Tracks().Strings()
	require.NoError(t, err)
	assert.Equal(t, wantTracks, gotTracks)
}

func TestStore_CompactPreservesMergedState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	original := document.New("doc1")
	updates := collectUpdates(t, original)
	require.NoError(t, original.Body().Insert(0, "compact me"))
	require.NoError(t, original.Meta().Set("title", "kept"))

	for _, u := range *updates {
		require.NoError(t, s.AppendUpdate(ctx, "doc1", u))
	}

	require.NoError(t, s.Compact(ctx, "doc1", original.Snapshot()))

	count, err := s.UpdateCount(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	payloads, err := s.LoadAll(ctx, "doc1")
	require.NoError(t, err)
	replica := document.New("doc1")
	for _, payload := range payloads {
		require.NoError(t, replica.ApplyUpdate(payload))
	}

	body, err := replica.Body().String()
	require.NoError(t, err)
	assert.Equal(t, "compact me", body)
	title, err := replica.Meta().GetString("title")
	require.NoError(t, err)
	assert.Equal(t, "kept", title)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updates.db")
	ctx := context.Background()

	s, err := Open(path, log.Nop())
	require.NoError(t, err)
	require.NoError(t, s.AppendUpdate(ctx, "doc1", []byte("durable")))
	require.NoError(t, s.Close())

	s, err = Open(path, log.Nop())
	require.NoError(t, err)
	defer s.Close()

	payloads, err := s.LoadAll(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte("durable"), payloads[0])
}
