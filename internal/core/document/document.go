// Package document holds the mergeable per-room document replica. All
// local edits and all remote merges funnel through a single mutex so an
// update is always applied whole; reads never touch the network.
package document

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	keyBody   = "body"
	keyMeta   = "meta"
	keyTracks = "tracks"
)

// EmitFunc receives the encoded update produced by a successful local
// mutation. It runs outside the document lock and must not block for
// long; transmission and persistence are the caller's concern.
type EmitFunc func(payload []byte)

// Document is one replica of a room's shared state: a text body, a
// key/value metadata map, and an ordered track list. Two replicas that
// observe the same set of updates converge to identical state.
type Document struct {
	room string

	mu   sync.Mutex
	doc  *automerge.Doc
	emit EmitFunc

	closed int32 // atomic

	updatesApplied uint64 // atomic
	updatesEmitted uint64 // atomic
}

// New creates an empty replica for the given room with a fresh actor
// identity.
func New(room string) *Document {
	doc := automerge.New()
	_ = doc.SetActorID(newActorID())
	return &Document{room: room, doc: doc}
}

// Load restores a replica from a full snapshot previously produced by
// Snapshot.
func Load(room string, snapshot []byte) (*Document, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load snapshot")
	}
	_ = doc.SetActorID(newActorID())
	return &Document{room: room, doc: doc}, nil
}

func newActorID() string {
	// automerge actor ids are hex strings; a uuid without dashes is one.
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Room returns the room identifier this replica belongs to.
func (d *Document) Room() string {
	return d.room
}

// OnUpdate registers the sink for locally produced updates. Only one
// sink is supported; registering replaces the previous one.
func (d *Document) OnUpdate(fn EmitFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit = fn
}

// Body returns the text view of the script body.
func (d *Document) Body() *TextView {
	return &TextView{d: d}
}

// Meta returns the key/value metadata view.
func (d *Document) Meta() *MapView {
	return &MapView{d: d}
}

// Tracks returns the ordered audio track list view.
func (d *Document) Tracks() *ListView {
	return &ListView{d: d}
}

// ApplyUpdate merges a remote update into the replica. Application is
// deterministic and idempotent; a well-formed update is never rejected.
// Malformed payloads must be filtered at the codec boundary before they
// reach this point.
func (d *Document) ApplyUpdate(payload []byte) error {
	if d.isClosed() {
		return ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.doc.LoadIncremental(payload); err != nil {
		return errors.Wrap(err, "failed to apply update")
	}
	atomic.AddUint64(&d.updatesApplied, 1)
	return nil
}

// Snapshot serializes the full document state, including history needed
// for future merges.
func (d *Document) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

// Heads returns the current change heads, useful for logging and sync
// diagnostics.
func (d *Document) Heads() []automerge.ChangeHash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Heads()
}

// Close marks the document released. Further mutations fail with
// ErrClosed; reads keep working so teardown paths can snapshot.
func (d *Document) Close() {
	atomic.StoreInt32(&d.closed, 1)
}

func (d *Document) isClosed() bool {
	return atomic.LoadInt32(&d.closed) == 1
}

// UpdatesApplied reports how many remote updates were merged.
func (d *Document) UpdatesApplied() uint64 {
	return atomic.LoadUint64(&d.updatesApplied)
}

// UpdatesEmitted reports how many local updates were produced.
func (d *Document) UpdatesEmitted() uint64 {
	return atomic.LoadUint64(&d.updatesEmitted)
}

// mutate runs fn under the document lock, commits the staged change and
// hands the incremental payload to the registered sink. fn must stage at
// least one operation or return an error.
func (d *Document) mutate(msg string, fn func(doc *automerge.Doc) error) error {
	if d.isClosed() {
		return ErrClosed
	}

	d.mu.Lock()
	if err := fn(d.doc); err != nil {
		d.mu.Unlock()
		return err
	}
	if _, err := d.doc.Commit(msg); err != nil {
		d.mu.Unlock()
		return errors.Wrap(err, "failed to commit change")
	}
	payload := d.doc.SaveIncremental()
	emit := d.emit
	atomic.AddUint64(&d.updatesEmitted, 1)
	d.mu.Unlock()

	if emit != nil && len(payload) > 0 {
		emit(payload)
	}
	return nil
}
