package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture registers an update sink and returns the slice it fills.
func capture(t *testing.T, d *Document) *[][]byte {
	t.Helper()
	updates := &[][]byte{}
	d.OnUpdate(func(payload []byte) {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		*updates = append(*updates, buf)
	})
	return updates
}

func docState(t *testing.T, d *Document) (string, []string) {
	t.Helper()
	body, err := d.Body().String()
	require.NoError(t, err)
	tracks, err := d.Tracks().Strings()
	require.NoError(t, err)
	return body, tracks
}

func TestDocument_LocalReadAfterWrite(t *testing.T) {
	d := New("doc1")

	require.NoError(t, d.Body().Insert(0, "hi"))

	body, err := d.Body().String()
	require.NoError(t, err)
	assert.Equal(t, "hi", body)
	assert.Equal(t, 2, d.Body().Len())
}

func TestDocument_TextBounds(t *testing.T) {
	d := New("doc1")
	require.NoError(t, d.Body().Insert(0, "hello"))

	err := d.Body().Insert(6, "!")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	err = d.Body().Insert(-1, "!")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	err = d.Body().Delete(3, 10)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	// A failed mutation changes nothing and emits nothing.
	body, err := d.Body().String()
	require.NoError(t, err)
	assert.Equal(t, "hello", body)
}

func TestDocument_FailedMutationEmitsNoUpdate(t *testing.T) {
	d := New("doc1")
	updates := capture(t, d)

	require.Error(t, d.Body().Insert(5, "late"))
	assert.Empty(t, *updates)

	require.NoError(t, d.Body().Insert(0, "ok"))
	assert.Len(t, *updates, 1)
}

func TestDocument_MetaMap(t *testing.T) {
	d := New("doc1")

	require.NoError(t, d.Meta().Set("title", "episode one"))
	require.NoError(t, d.Meta().Set("voice", "narrator"))

	title, err := d.Meta().GetString("title")
	require.NoError(t, err)
	assert.Equal(t, "episode one", title)

	keys, err := d.Meta().Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"title", "voice"}, keys)

	require.NoError(t, d.Meta().Delete("voice"))
	missing, err := d.Meta().GetString("voice")
	require.NoError(t, err)
	assert.Equal(t, "", missing)

	assert.ErrorIs(t, d.Meta().Set("", "x"), ErrInvalidOperation)
	assert.ErrorIs(t, d.Meta().Delete("voice"), ErrInvalidOperation)
}

func TestDocument_TrackList(t *testing.T) {
	d := New("doc1")

	require.NoError(t, d.Tracks().Push("intro.mp3"))
	require.NoError(t, d.Tracks().Push("outro.mp3"))
	require.NoError(t, d.Tracks().Insert(1, "scene-1.mp3"))

	tracks, err := d.Tracks().Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"intro.mp3", "scene-1.mp3", "outro.mp3"}, tracks)

	require.NoError(t, d.Tracks().Remove(0))
	tracks, err = d.Tracks().Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"scene-1.mp3", "outro.mp3"}, tracks)

	assert.ErrorIs(t, d.Tracks().Insert(5, "x"), ErrInvalidOperation)
	assert.ErrorIs(t, d.Tracks().Remove(2), ErrInvalidOperation)
	assert.Equal(t, 2, d.Tracks().Len())
}

func TestDocument_Convergence(t *testing.T) {
	a := New("doc1")
	b := New("doc1")
	updatesA := capture(t, a)
	updatesB := capture(t, b)

	require.NoError(t, a.Body().Insert(0, "hello"))
	require.NoError(t, a.Meta().Set("title", "draft"))
	require.NoError(t, b.Body().Insert(0, "world"))
	require.NoError(t, b.Tracks().Push("intro.mp3"))

	// Cross-apply in opposite orders, with duplicates.
	for _, u := range *updatesB {
		require.NoError(t, a.ApplyUpdate(u))
	}
	for i := len(*updatesA) - 1; i >= 0; i-- {
		require.NoError(t, b.ApplyUpdate((*updatesA)[i]))
	}
	for _, u := range *updatesB {
		require.NoError(t, a.ApplyUpdate(u))
	}

	bodyA, tracksA := docState(t, a)
	bodyB, tracksB := docState(t, b)
	assert.Equal(t, bodyA, bodyB)
	assert.Equal(t, tracksA, tracksB)

	titleA, err := a.Meta().GetString("title")
	require.NoError(t, err)
	titleB, err := b.Meta().GetString("title")
	require.NoError(t, err)
	assert.Equal(t, titleA, titleB)
}

func TestDocument_CommutativityOnFreshReplicas(t *testing.T) {
	src := New("doc1")
	updates := capture(t, src)

	require.NoError(t, src.Meta().Set("a", "1"))
	require.NoError(t, src.Meta().Set("b", "2"))
	require.Len(t, *updates, 2)

	forward := New("doc1")
	require.NoError(t, forward.ApplyUpdate((*updates)[0]))
	require.NoError(t, forward.ApplyUpdate((*updates)[1]))

	reversed := New("doc1")
	require.NoError(t, reversed.ApplyUpdate((*updates)[1]))
	require.NoError(t, reversed.ApplyUpdate((*updates)[0]))

	for _, key := range []string{"a", "b"} {
		f, err := forward.Meta().GetString(key)
		require.NoError(t, err)
		r, err := reversed.Meta().GetString(key)
		require.NoError(t, err)
		assert.Equal(t, f, r)
	}
}

func TestDocument_Idempotence(t *testing.T) {
	src := New("doc1")
	updates := capture(t, src)
	require.NoError(t, src.Body().Insert(0, "once"))
	require.Len(t, *updates, 1)

	replica := New("doc1")
	require.NoError(t, replica.ApplyUpdate((*updates)[0]))
	require.NoError(t, replica.ApplyUpdate((*updates)[0]))

	body, err := replica.Body().String()
	require.NoError(t, err)
	assert.Equal(t, "once", body)
}

func TestDocument_SnapshotRoundTrip(t *testing.T) {
	d := New("doc1")
	require.NoError(t, d.Body().Insert(0, "persisted"))
	require.NoError(t, d.Tracks().Push("a.mp3"))

	restored, err := Load("doc1", d.Snapshot())
	require.NoError(t, err)

	body, tracks := docState(t, restored)
	assert.Equal(t, "persisted", body)
	assert.Equal(t, []string{"a.mp3"}, tracks)
}

func TestDocument_SnapshotMergesAsUpdate(t *testing.T) {
	a := New("doc1")
	require.NoError(t, a.Body().Insert(0, "from a"))

	b := New("doc1")
	require.NoError(t, b.Meta().Set("owner", "b"))

	// Full-state exchange: a snapshot applies like any other update.
	require.NoError(t, b.ApplyUpdate(a.Snapshot()))

	body, err := b.Body().String()
	require.NoError(t, err)
	assert.Equal(t, "from a", body)
	owner, err := b.Meta().GetString("owner")
	require.NoError(t, err)
	assert.Equal(t, "b", owner)
}

func TestDocument_ClosedRejectsMutations(t *testing.T) {
	d := New("doc1")
	require.NoError(t, d.Body().Insert(0, "x"))
	d.Close()

	assert.ErrorIs(t, d.Body().Insert(0, "y"), ErrClosed)
	assert.ErrorIs(t, d.ApplyUpdate([]byte{1}), ErrClosed)

	// Reads still work so teardown can snapshot.
	body, err := d.Body().String()
	require.NoError(t, err)
	assert.Equal(t, "x", body)
	assert.NotEmpty(t, d.Snapshot())
}

func TestDocument_EmptyMutationsAreNoOps(t *testing.T) {
	d := New("doc1")
	updates := capture(t, d)

	require.NoError(t, d.Body().Insert(0, ""))
	require.NoError(t, d.Body().Delete(0, 0))
	assert.Empty(t, *updates)
}
