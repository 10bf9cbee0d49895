// Package codec owns the boundary between mergeable updates and wire
// bytes. The relay never decodes payloads; every client decodes before
// letting bytes anywhere near its replica.
package codec

import (
	"bytes"
	"errors"

	"github.com/automerge/automerge-go"
	pkgerrors "github.com/pkg/errors"
)

// ErrDecode is returned for nil, truncated or corrupted payloads. The
// payload is dropped and no partial merge happens.
var ErrDecode = errors.New("failed to decode update payload")

// chunkMagic is the header every serialized change chunk starts with.
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

// Update is a validated, immutable delta ready to merge into a replica.
type Update struct {
	payload []byte
}

// Bytes returns the wire form of the update.
func (u Update) Bytes() []byte {
	return u.payload
}

// Size returns the payload size in bytes.
func (u Update) Size() int {
	return len(u.payload)
}

// Encode wraps locally produced update bytes. The document emits bytes
// that are already in wire form, so encoding is the identity; the type
// exists so raw network bytes cannot be confused with validated updates.
func Encode(payload []byte) Update {
	return Update{payload: payload}
}

// Decode validates received bytes and returns a mergeable Update. The
// check replays the payload onto a scratch replica so a corrupted chunk
// can never touch live state. All failures wrap ErrDecode.
func Decode(payload []byte) (Update, error) {
	if len(payload) == 0 {
		return Update{}, pkgerrors.Wrap(ErrDecode, "empty payload")
	}
	if len(payload) < len(chunkMagic) || !bytes.HasPrefix(payload, chunkMagic) {
		return Update{}, pkgerrors.Wrap(ErrDecode, "bad chunk header")
	}

	scratch := automerge.New()
	if err := scratch.LoadIncremental(payload); err != nil {
		return Update{}, pkgerrors.Wrapf(ErrDecode, "chunk rejected: %v", err)
	}

	return Update{payload: payload}, nil
}
