package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptroom/scriptroom/internal/core/document"
)

func makeUpdate(t *testing.T) []byte {
	t.Helper()
	var payload []byte
	d := document.New("doc1")
	d.OnUpdate(func(p []byte) { payload = p })
	require.NoError(t, d.Body().Insert(0, "hello"))
	require.NotEmpty(t, payload)
	return payload
}

func TestDecode_RoundTrip(t *testing.T) {
	payload := makeUpdate(t)

	u, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, u.Bytes())
	assert.Equal(t, len(payload), u.Size())
}

func TestDecode_RejectsEmpty(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Decode([]byte{})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an update"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_RejectsTruncated(t *testing.T) {
	payload := makeUpdate(t)

	_, err := Decode(payload[:len(payload)/2])
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_RejectsCorrupted(t *testing.T) {
	payload := makeUpdate(t)

	corrupted := make([]byte, len(payload))
	copy(corrupted, payload)
	// Flip bytes past the header so the checksum no longer matches.
	for i := len(corrupted) / 2; i < len(corrupted)/2+4 && i < len(corrupted); i++ {
		corrupted[i] ^= 0xff
	}

	_, err := Decode(corrupted)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_FailureLeavesModelUntouched(t *testing.T) {
	d := document.New("doc1")
	require.NoError(t, d.Body().Insert(0, "stable"))

	_, err := Decode([]byte("garbage garbage garbage"))
	require.Error(t, err)

	body, err := d.Body().String()
	require.NoError(t, err)
	assert.Equal(t, "stable", body)
}

func TestEncode_IsIdentityOverPayload(t *testing.T) {
	payload := makeUpdate(t)
	assert.Equal(t, payload, Encode(payload).Bytes())
}
