// Package document implements the rich-document model: an ordered list of
// text, image and block-marker ops.
//
// The package is pure data. It performs no I/O and holds no references to
// staged image content; image ops only carry an ImageRef naming either a
// staged local handle or a durable remote URL.
//
// A Document can be serialized only once every image ref in it is Remote:
//
//	data, err := doc.Serialize()
//	if errors.Is(err, document.ErrUnresolved) {
//		// publish the images first
//	}
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrIndexOutOfRange  = errors.New("op index out of range")
	ErrUnknownKind      = errors.New("unknown op kind")
	ErrMalformedOp      = errors.New("malformed op")
	ErrInvalidImageRef  = errors.New("invalid image ref")
	ErrInvalidAttribute = errors.New("invalid attribute")
	ErrUnresolved       = errors.New("document contains local image refs")
)

// Document is an ordered sequence of ops.
//
// The zero value is an empty document. A Document is owned by one editing
// session; use Clone to take an independent snapshot.
type Document struct {
	ops []Op
}

// New returns a document holding copies of ops.
func New(ops ...Op) Document {
	return Document{ops: cloneOps(ops)}
}

// Len returns the number of top-level ops.
func (d Document) Len() int { return len(d.ops) }

// Empty reports whether the document carries no visible content: no ops,
// or only text ops and blocks with empty text.
func (d Document) Empty() bool {
	for _, op := range d.ops {
		if !opEmpty(op) {
			return false
		}
	}
	return true
}

func opEmpty(op Op) bool {
	switch op.Kind {
	case KindText:
		return op.Text == ""
	case KindBlock:
		for _, child := range op.Children {
			if !opEmpty(child) {
				return false
			}
		}
		return true
	}
	return false
}

// Ops returns a deep copy of the op list.
func (d Document) Ops() []Op { return cloneOps(d.ops) }

// At returns a copy of the op at index i.
func (d Document) At(i int) (Op, error) {
	if i < 0 || i >= len(d.ops) {
		return Op{}, fmt.Errorf("index %d of %d: %w", i, len(d.ops), ErrIndexOutOfRange)
	}
	return d.ops[i].Clone(), nil
}

// Clone returns an independent deep copy of d.
func (d Document) Clone() Document {
	return Document{ops: cloneOps(d.ops)}
}

// Append adds op at the end of the document.
func (d *Document) Append(op Op) {
	d.ops = append(d.ops, op.Clone())
}

// ReplaceAt replaces the op at index i.
func (d *Document) ReplaceAt(i int, op Op) error {
	if i < 0 || i >= len(d.ops) {
		return fmt.Errorf("replace at %d of %d: %w", i, len(d.ops), ErrIndexOutOfRange)
	}
	ops := slices.Clone(d.ops)
	ops[i] = op.Clone()
	d.ops = ops
	return nil
}

// RemoveAt deletes the op at index i and returns it. Local handles held by
// the removed op are not released here; the owning session tracks them.
func (d *Document) RemoveAt(i int) (Op, error) {
	if i < 0 || i >= len(d.ops) {
		return Op{}, fmt.Errorf("remove at %d of %d: %w", i, len(d.ops), ErrIndexOutOfRange)
	}
	removed := d.ops[i]
	d.ops = slices.Delete(slices.Clone(d.ops), i, i+1)
	return removed, nil
}

// CollectImageRefs returns every image ref reachable from the op list,
// including refs inside block children, in first-seen order. Refs are
// de-duplicated by value.
func (d Document) CollectImageRefs() []ImageRef {
	seen := make(map[ImageRef]struct{})
	var refs []ImageRef
	walk(d.ops, func(op Op) {
		ref, ok := op.Ref()
		if !ok {
			return
		}
		if _, dup := seen[ref]; dup {
			return
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	})
	return refs
}

// HasLocal reports whether any image ref is still Local.
func (d Document) HasLocal() bool {
	for _, ref := range d.CollectImageRefs() {
		if ref.IsLocal() {
			return true
		}
	}
	return false
}

// RewriteImages returns a copy of d where every image ref r for which
// fn(r) reports true is replaced with the returned ref.
func (d Document) RewriteImages(fn func(ImageRef) (ImageRef, bool)) Document {
	return Document{ops: rewrite(d.ops, fn)}
}

func rewrite(ops []Op, fn func(ImageRef) (ImageRef, bool)) []Op {
	if len(ops) == 0 {
		return nil
	}
	out := make([]Op, len(ops))
	for i, op := range ops {
		op = op.Clone()
		if ref, ok := op.Ref(); ok {
			if next, replace := fn(ref); replace {
				op.Image = &next
			}
		}
		if len(op.Children) > 0 {
			op.Children = rewrite(op.Children, fn)
		}
		out[i] = op
	}
	return out
}

func walk(ops []Op, fn func(Op)) {
	for _, op := range ops {
		fn(op)
		if len(op.Children) > 0 {
			walk(op.Children, fn)
		}
	}
}

// Validate checks every op.
func (d Document) Validate() error {
	for i, op := range d.ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

// Serialize encodes the op list as JSON. It fails with ErrUnresolved while
// any Local image ref remains.
func (d Document) Serialize() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.HasLocal() {
		return nil, ErrUnresolved
	}
	ops := d.ops
	if ops == nil {
		ops = []Op{}
	}
	return json.Marshal(ops)
}

// Deserialize decodes an op list produced by Serialize. Unknown op kinds and
// Local image refs are rejected.
func Deserialize(data []byte) (Document, error) {
	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return Document{}, fmt.Errorf("decoding ops: %w", err)
	}
	d := Document{ops: cloneOps(ops)}
	if err := d.Validate(); err != nil {
		return Document{}, err
	}
	if d.HasLocal() {
		return Document{}, ErrUnresolved
	}
	return d, nil
}

// Equal reports whether d and other hold the same ops.
func (d Document) Equal(other Document) bool {
	if len(d.ops) != len(other.ops) {
		return false
	}
	if len(d.ops) == 0 {
		return true
	}
	a, errA := json.Marshal(d.ops)
	b, errB := json.Marshal(other.ops)
	return errA == nil && errB == nil && string(a) == string(b)
}

// MarshalJSON encodes the op list without the resolution check; it exists so
// drafts can be logged or inspected. Use Serialize for persistence.
func (d Document) MarshalJSON() ([]byte, error) {
	ops := d.ops
	if ops == nil {
		ops = []Op{}
	}
	return json.Marshal(ops)
}

// UnmarshalJSON decodes an op list, rejecting unknown kinds. Local refs are
// accepted; use Deserialize to also require a resolved document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}
	next := Document{ops: cloneOps(ops)}
	if err := next.Validate(); err != nil {
		return err
	}
	*d = next
	return nil
}
