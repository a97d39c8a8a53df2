package document

import (
	"fmt"
)

// Align is a paragraph or image alignment value.
type Align string

const (
	AlignLeft    Align = "left"
	AlignCenter  Align = "center"
	AlignRight   Align = "right"
	AlignJustify Align = "justify"
)

// Valid reports whether a is one of the known alignment values.
func (a Align) Valid() bool {
	switch a {
	case AlignLeft, AlignCenter, AlignRight, AlignJustify:
		return true
	}
	return false
}

// ParseAlign converts s into an Align.
func ParseAlign(s string) (Align, error) {
	a := Align(s)
	if !a.Valid() {
		return "", fmt.Errorf("align %q: %w", s, ErrInvalidAttribute)
	}
	return a, nil
}

// Attributes holds the formatting keys of an op.
//
// Every key is a pointer: nil means the key is unset, which is not the same
// as a present false. The renderer relies on that distinction for caption
// blocks and alignment fallback.
type Attributes struct {
	Bold      *bool   `json:"bold,omitempty"`
	Italic    *bool   `json:"italic,omitempty"`
	Underline *bool   `json:"underline,omitempty"`
	Strike    *bool   `json:"strike,omitempty"`
	Color     *string `json:"color,omitempty"`
	Link      *string `json:"link,omitempty"`
	Width     *int    `json:"width,omitempty"`
	Align     *Align  `json:"align,omitempty"`
	Caption   *bool   `json:"caption,omitempty"`
}

// Bool returns a pointer to v, for building Attributes literals.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// AlignPtr returns a pointer to v.
func AlignPtr(v Align) *Align { return &v }

// IsZero reports whether no key is set.
func (a Attributes) IsZero() bool {
	return a.Bold == nil && a.Italic == nil && a.Underline == nil && a.Strike == nil &&
		a.Color == nil && a.Link == nil && a.Width == nil && a.Align == nil && a.Caption == nil
}

// Merge returns a copy of a with every key set in b overlaid on top.
// Keys unset in b keep the value from a.
func (a Attributes) Merge(b Attributes) Attributes {
	out := a
	if b.Bold != nil {
		out.Bold = b.Bold
	}
	if b.Italic != nil {
		out.Italic = b.Italic
	}
	if b.Underline != nil {
		out.Underline = b.Underline
	}
	if b.Strike != nil {
		out.Strike = b.Strike
	}
	if b.Color != nil {
		out.Color = b.Color
	}
	if b.Link != nil {
		out.Link = b.Link
	}
	if b.Width != nil {
		out.Width = b.Width
	}
	if b.Align != nil {
		out.Align = b.Align
	}
	if b.Caption != nil {
		out.Caption = b.Caption
	}
	return out
}

// IsCaption reports whether the caption key is present and true.
func (a Attributes) IsCaption() bool {
	return a.Caption != nil && *a.Caption
}

// Alignment returns the alignment and whether it is set.
func (a Attributes) Alignment() (Align, bool) {
	if a.Align == nil {
		return "", false
	}
	return *a.Align, true
}

func (a Attributes) validate() error {
	if a.Align != nil && !a.Align.Valid() {
		return fmt.Errorf("align %q: %w", *a.Align, ErrInvalidAttribute)
	}
	if a.Width != nil && *a.Width < 0 {
		return fmt.Errorf("width %d: %w", *a.Width, ErrInvalidAttribute)
	}
	return nil
}
