package document

import (
	"github.com/automerge/automerge-go"
	"github.com/pkg/errors"
)

// TextView is a mutable view over the document's text body. Reads and
// writes are local and synchronous; writes emit an update.
type TextView struct {
	d *Document
}

// Insert places s at rune offset at. Inserting an empty string is a
// no-op and emits nothing.
func (v *TextView) Insert(at int, s string) error {
	if s == "" {
		return nil
	}
	return v.d.mutate("insert text", func(doc *automerge.Doc) error {
		text := doc.Path(keyBody).Text()
		if at < 0 || at > text.Len() {
			return errors.Wrapf(ErrInvalidOperation, "insert at %d, length %d", at, text.Len())
		}
		return errors.Wrap(text.Insert(at, s), "failed to insert text")
	})
}

// Delete removes n runes starting at offset at. Deleting zero runes is a
// no-op.
func (v *TextView) Delete(at, n int) error {
	if n == 0 {
		return nil
	}
	return v.d.mutate("delete text", func(doc *automerge.Doc) error {
		text := doc.Path(keyBody).Text()
		if at < 0 || n < 0 || at+n > text.Len() {
			return errors.Wrapf(ErrInvalidOperation, "delete [%d,%d), length %d", at, at+n, text.Len())
		}
		return errors.Wrap(text.Delete(at, n), "failed to delete text")
	})
}

// Len returns the body length in runes.
func (v *TextView) Len() int {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	return v.d.doc.Path(keyBody).Text().Len()
}

// String returns the current body contents.
func (v *TextView) String() (string, error) {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	text := v.d.doc.Path(keyBody).Text()
	if text.Len() == 0 {
		return "", nil
	}
	s, err := text.Get()
	if err != nil {
		return "", errors.Wrap(err, "failed to read text")
	}
	return s, nil
}

// MapView is a mutable view over the document's metadata map.
type MapView struct {
	d *Document
}

// Set writes a metadata key. Empty keys are rejected.
func (v *MapView) Set(key string, value any) error {
	if key == "" {
		return errors.Wrap(ErrInvalidOperation, "empty map key")
	}
	return v.d.mutate("set meta", func(doc *automerge.Doc) error {
		return errors.Wrapf(doc.Path(keyMeta).Map().Set(key, value), "failed to set %q", key)
	})
}

// Delete removes a metadata key. Deleting a key that is not present is
// rejected so the caller learns about stale state.
func (v *MapView) Delete(key string) error {
	if key == "" {
		return errors.Wrap(ErrInvalidOperation, "empty map key")
	}
	return v.d.mutate("delete meta", func(doc *automerge.Doc) error {
		m := doc.Path(keyMeta).Map()
		val, err := m.Get(key)
		if err != nil {
			return errors.Wrapf(err, "failed to read %q", key)
		}
		if val.Kind() == automerge.KindVoid {
			return errors.Wrapf(ErrInvalidOperation, "key %q not present", key)
		}
		return errors.Wrapf(m.Delete(key), "failed to delete %q", key)
	})
}

// GetString reads a string-valued metadata key. Missing keys read as the
// empty string.
func (v *MapView) GetString(key string) (string, error) {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	val, err := v.d.doc.Path(keyMeta).Map().Get(key)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %q", key)
	}
	if val.Kind() == automerge.KindVoid {
		return "", nil
	}
	return automerge.As[string](val, nil)
}

// Keys lists the metadata keys currently present.
func (v *MapView) Keys() ([]string, error) {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	keys, err := v.d.doc.Path(keyMeta).Map().Keys()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	return keys, nil
}

// ListView is a mutable view over the document's ordered track list.
type ListView struct {
	d *Document
}

// Push appends a value to the end of the list.
func (v *ListView) Push(value any) error {
	return v.d.mutate("push track", func(doc *automerge.Doc) error {
		return errors.Wrap(doc.Path(keyTracks).List().Append(value), "failed to append")
	})
}

// Insert places a value at index i, shifting later elements right.
func (v *ListView) Insert(i int, value any) error {
	return v.d.mutate("insert track", func(doc *automerge.Doc) error {
		list := doc.Path(keyTracks).List()
		if i < 0 || i > list.Len() {
			return errors.Wrapf(ErrInvalidOperation, "insert at %d, length %d", i, list.Len())
		}
		return errors.Wrapf(list.Insert(i, value), "failed to insert at %d", i)
	})
}

// Remove deletes the element at index i.
func (v *ListView) Remove(i int) error {
	return v.d.mutate("remove track", func(doc *automerge.Doc) error {
		list := doc.Path(keyTracks).List()
		if i < 0 || i >= list.Len() {
			return errors.Wrapf(ErrInvalidOperation, "remove at %d, length %d", i, list.Len())
		}
		return errors.Wrapf(list.Delete(i), "failed to delete at %d", i)
	})
}

// Len returns the number of list elements.
func (v *ListView) Len() int {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	return v.d.doc.Path(keyTracks).List().Len()
}

// Strings reads the list as string elements; non-string elements fail.
func (v *ListView) Strings() ([]string, error) {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	list := v.d.doc.Path(keyTracks).List()
	out := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		val, err := list.Get(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read index %d", i)
		}
		s, err := automerge.As[string](val, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to convert index %d", i)
		}
		out = append(out, s)
	}
	return out, nil
}
