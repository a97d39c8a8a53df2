package document

import (
	"fmt"
	"slices"
)

// Kind discriminates the Op union.
type Kind string

const (
	// KindText is a run of text sharing one set of attributes.
	KindText Kind = "text"
	// KindImage is an embedded image.
	KindImage Kind = "image"
	// KindBlock is a block-level marker: one paragraph whose inline
	// content is held in Children and whose attributes (align, caption)
	// apply to the paragraph as a whole.
	KindBlock Kind = "block"
)

// Op is one atomic unit of document content.
type Op struct {
	Kind       Kind       `json:"kind"`
	Text       string     `json:"text,omitempty"`
	Image      *ImageRef  `json:"image,omitempty"`
	Attributes Attributes `json:"attributes,omitzero"`
	Children   []Op       `json:"children,omitempty"`
}

// Text builds a text op.
func Text(text string, attrs Attributes) Op {
	return Op{Kind: KindText, Text: text, Attributes: attrs}
}

// Image builds an image op.
func Image(ref ImageRef, attrs Attributes) Op {
	return Op{Kind: KindImage, Image: &ref, Attributes: attrs}
}

// Block builds a block marker around the given inline ops.
func Block(attrs Attributes, children ...Op) Op {
	op := Op{Kind: KindBlock, Attributes: attrs}
	if len(children) > 0 {
		op.Children = cloneOps(children)
	}
	return op
}

// Caption builds a caption block holding a single text run.
func Caption(text string) Op {
	return Block(Attributes{Caption: Bool(true)}, Text(text, Attributes{}))
}

// Ref returns the image ref of an image op.
func (o Op) Ref() (ImageRef, bool) {
	if o.Kind != KindImage || o.Image == nil {
		return ImageRef{}, false
	}
	return *o.Image, true
}

// Inline reports whether the op may appear inside a block.
func (o Op) Inline() bool {
	return o.Kind == KindText || o.Kind == KindImage
}

// Clone returns a deep copy of o.
func (o Op) Clone() Op {
	out := o
	if o.Image != nil {
		ref := *o.Image
		out.Image = &ref
	}
	if len(o.Children) > 0 {
		out.Children = cloneOps(o.Children)
	} else {
		out.Children = nil
	}
	return out
}

// Validate checks that the op is a well-formed member of the union.
func (o Op) Validate() error {
	if err := o.Attributes.validate(); err != nil {
		return err
	}
	switch o.Kind {
	case KindText:
		if o.Image != nil || len(o.Children) > 0 {
			return fmt.Errorf("text op carries image or children: %w", ErrMalformedOp)
		}
	case KindImage:
		if o.Image == nil {
			return fmt.Errorf("image op without ref: %w", ErrMalformedOp)
		}
		if o.Text != "" || len(o.Children) > 0 {
			return fmt.Errorf("image op carries text or children: %w", ErrMalformedOp)
		}
		if err := o.Image.validate(); err != nil {
			return err
		}
	case KindBlock:
		if o.Text != "" || o.Image != nil {
			return fmt.Errorf("block op carries text or image: %w", ErrMalformedOp)
		}
		for i, child := range o.Children {
			if !child.Inline() {
				if child.Kind == KindBlock {
					return fmt.Errorf("block child %d: nested block: %w", i, ErrMalformedOp)
				}
				return fmt.Errorf("block child %d: kind %q: %w", i, child.Kind, ErrUnknownKind)
			}
			if err := child.Validate(); err != nil {
				return fmt.Errorf("block child %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("kind %q: %w", o.Kind, ErrUnknownKind)
	}
	return nil
}

func cloneOps(ops []Op) []Op {
	if len(ops) == 0 {
		return nil
	}
	out := slices.Clone(ops)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}
