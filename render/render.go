// Package render turns a document into a display tree of paragraphs and
// serializes that tree to HTML.
//
// Rendering is pure: it mutates neither the document nor the staging
// store. Local images are read transiently through a Source and embedded as
// data URIs, so a draft previews without any network access. Published
// documents are rendered with RenderPublished, which refuses Local refs.
package render

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/alexjoedt/docpub/document"
)

// DefaultGap is the spacing, in pixels, rendered before a block.
const DefaultGap = 16

var (
	ErrLocalImage = errors.New("local image in published document")
	ErrNoSource   = errors.New("no source for local images")
)

// Source loads staged image bytes for preview.
type Source interface {
	Load(handle string) ([]byte, string, error)
}

// Tree is a rendered document.
type Tree struct {
	Blocks []Block
}

// Block is one rendered paragraph.
type Block struct {
	Align   document.Align // empty when unset
	Caption bool
	// CaptionOf is the index of the block this caption belongs to, or -1.
	CaptionOf int
	Gap       int // spacing before the block
	Inlines   []Inline
}

// HasImage reports whether the block contains an image.
func (b Block) HasImage() bool {
	for _, in := range b.Inlines {
		if in.Image != nil {
			return true
		}
	}
	return false
}

// Text returns the concatenated text runs of the block.
func (b Block) Text() string {
	var sb strings.Builder
	for _, in := range b.Inlines {
		sb.WriteString(in.Text)
	}
	return sb.String()
}

// Inline is a text run or an image inside a block.
type Inline struct {
	Text       string
	Attributes document.Attributes
	Image      *Image
}

// Image is a rendered image.
type Image struct {
	Src         string // remote URL or data URI
	Local       bool
	ContentType string
	Width       int            // 0 when unset
	Align       document.Align // effective alignment
}

// Render builds the display tree of doc. Local images are loaded from src.
func Render(doc document.Document, src Source) (*Tree, error) {
	return render(doc, func(ref document.ImageRef) (*Image, error) {
		if src == nil {
			return nil, fmt.Errorf("handle %s: %w", ref.Handle, ErrNoSource)
		}
		data, contentType, err := src.Load(ref.Handle)
		if err != nil {
			return nil, fmt.Errorf("loading preview %s: %w", ref.Handle, err)
		}
		return &Image{
			Src:         "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
			Local:       true,
			ContentType: contentType,
		}, nil
	})
}

// RenderPublished builds the display tree of a resolved document. Any Local
// ref fails with ErrLocalImage.
func RenderPublished(doc document.Document) (*Tree, error) {
	return render(doc, func(ref document.ImageRef) (*Image, error) {
		return nil, fmt.Errorf("handle %s: %w", ref.Handle, ErrLocalImage)
	})
}

type loadLocal func(document.ImageRef) (*Image, error)

func render(doc document.Document, local loadLocal) (*Tree, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	b := &builder{local: local, tree: &Tree{}}

	var pending []document.Op
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := b.paragraph(document.Attributes{}, pending)
		pending = nil
		return err
	}

	for _, op := range doc.Ops() {
		switch op.Kind {
		case document.KindBlock:
			if err := flush(); err != nil {
				return nil, err
			}
			if err := b.paragraph(op.Attributes, op.Children); err != nil {
				return nil, err
			}
		case document.KindText:
			lines := strings.Split(op.Text, "\n")
			for i, line := range lines {
				if line != "" {
					pending = append(pending, document.Text(line, op.Attributes))
				}
				if i < len(lines)-1 {
					if err := flush(); err != nil {
						return nil, err
					}
				}
			}
		case document.KindImage:
			pending = append(pending, op)
		default:
			return nil, fmt.Errorf("render: %w: %q", document.ErrUnknownKind, op.Kind)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return b.tree, nil
}

type builder struct {
	local loadLocal
	tree  *Tree
}

func (b *builder) paragraph(attrs document.Attributes, ops []document.Op) error {
	block := Block{CaptionOf: -1, Gap: DefaultGap}
	if align, ok := attrs.Alignment(); ok {
		block.Align = align
	}

	for _, op := range ops {
		switch op.Kind {
		case document.KindText:
			block.Inlines = append(block.Inlines, Inline{Text: op.Text, Attributes: op.Attributes})
		case document.KindImage:
			img, err := b.image(op, block.Align)
			if err != nil {
				return err
			}
			block.Inlines = append(block.Inlines, Inline{Attributes: op.Attributes, Image: img})
		default:
			return fmt.Errorf("render: %w: %q inside block", document.ErrUnknownKind, op.Kind)
		}
	}

	if attrs.IsCaption() {
		block.Caption = true
		if n := len(b.tree.Blocks); n > 0 {
			prev := b.tree.Blocks[n-1]
			if !prev.Caption && prev.HasImage() {
				block.CaptionOf = n - 1
				block.Gap = 0
			}
		}
	}
	b.tree.Blocks = append(b.tree.Blocks, block)
	return nil
}

// image resolves one image op. The paragraph alignment, when set, wins over
// the image's own.
func (b *builder) image(op document.Op, paragraphAlign document.Align) (*Image, error) {
	ref, _ := op.Ref()
	var img *Image
	switch {
	case ref.IsRemote():
		img = &Image{Src: ref.URL}
	case ref.IsLocal():
		var err error
		if img, err = b.local(ref); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("render: %w", document.ErrInvalidImageRef)
	}

	img.Align = paragraphAlign
	if img.Align == "" {
		if align, ok := op.Attributes.Alignment(); ok {
			img.Align = align
		}
	}
	if op.Attributes.Width != nil {
		img.Width = *op.Attributes.Width
	}
	return img, nil
}
