package render

import (
	"bytes"
	"fmt"
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/alexjoedt/docpub/document"
)

// HTML serializes t as an <article>. An image paragraph followed by its
// caption becomes a <figure> with a <figcaption>.
func HTML(t *Tree) (string, error) {
	root := element(atom.Article)

	for i := 0; i < len(t.Blocks); i++ {
		block := t.Blocks[i]
		if i+1 < len(t.Blocks) && t.Blocks[i+1].CaptionOf == i {
			fig := element(atom.Figure)
			fig.AppendChild(paragraphNode(block, atom.P))
			fig.AppendChild(paragraphNode(t.Blocks[i+1], atom.Figcaption))
			root.AppendChild(fig)
			i++
			continue
		}
		root.AppendChild(paragraphNode(block, atom.P))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return buf.String(), nil
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func attr(key, val string) html.Attribute { return html.Attribute{Key: key, Val: val} }

func paragraphNode(b Block, a atom.Atom) *html.Node {
	var attrs []html.Attribute
	style := ""
	if b.Align != "" {
		style += "text-align:" + string(b.Align) + ";"
	}
	if b.Gap != DefaultGap {
		style += "margin-top:" + strconv.Itoa(b.Gap) + "px;"
	}
	if style != "" {
		attrs = append(attrs, attr("style", style))
	}
	if b.Caption && a != atom.Figcaption {
		attrs = append(attrs, attr("class", "caption"))
	}

	p := element(a, attrs...)
	for _, in := range b.Inlines {
		if in.Image != nil {
			p.AppendChild(imageNode(in.Image))
			continue
		}
		p.AppendChild(textNode(in.Text, in.Attributes))
	}
	return p
}

func imageNode(img *Image) *html.Node {
	attrs := []html.Attribute{attr("src", img.Src), attr("alt", "")}
	if img.Width > 0 {
		attrs = append(attrs, attr("width", strconv.Itoa(img.Width)))
	}
	if img.Align != "" {
		attrs = append(attrs, attr("data-align", string(img.Align)))
	}
	return element(atom.Img, attrs...)
}

// textNode wraps a text run in one element per set formatting attribute.
func textNode(text string, a document.Attributes) *html.Node {
	node := &html.Node{Type: html.TextNode, Data: text}
	wrap := func(el *html.Node) {
		el.AppendChild(node)
		node = el
	}
	if isSet(a.Bold) {
		wrap(element(atom.Strong))
	}
	if isSet(a.Italic) {
		wrap(element(atom.Em))
	}
	if isSet(a.Underline) {
		wrap(element(atom.U))
	}
	if isSet(a.Strike) {
		wrap(element(atom.S))
	}
	if a.Color != nil && *a.Color != "" {
		wrap(element(atom.Span, attr("style", "color:"+*a.Color)))
	}
	if a.Link != nil && *a.Link != "" {
		wrap(element(atom.A, attr("href", *a.Link)))
	}
	return node
}

func isSet(b *bool) bool { return b != nil && *b }
