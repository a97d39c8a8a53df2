package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjoedt/docpub/document"
)

type mapSource struct {
	files map[string][]byte
	loads int
}

func (m *mapSource) Load(handle string) ([]byte, string, error) {
	m.loads++
	data, ok := m.files[handle]
	if !ok {
		return nil, "", errors.New("no such handle")
	}
	return data, "image/png", nil
}

var none = document.Attributes{}

func TestImplicitParagraphsSplitOnNewline(t *testing.T) {
	doc := document.New(
		document.Text("first line\nsecond ", none),
		document.Text("continues", document.Attributes{Bold: document.Bool(true)}),
		document.Text("\n\nthird", none),
	)
	tree, err := RenderPublished(doc)
	require.NoError(t, err)

	require.Len(t, tree.Blocks, 3)
	assert.Equal(t, "first line", tree.Blocks[0].Text())
	assert.Equal(t, "second continues", tree.Blocks[1].Text())
	assert.Equal(t, "third", tree.Blocks[2].Text())
	for _, b := range tree.Blocks {
		assert.Equal(t, DefaultGap, b.Gap)
		assert.Equal(t, -1, b.CaptionOf)
	}
}

func TestParagraphAlignmentWinsOverImage(t *testing.T) {
	img := document.Image(document.Remote("https://cdn/a.png"),
		document.Attributes{Align: document.AlignPtr(document.AlignRight), Width: document.Int(320)})

	doc := document.New(
		document.Block(document.Attributes{Align: document.AlignPtr(document.AlignCenter)}, img),
		img,
	)
	tree, err := RenderPublished(doc)
	require.NoError(t, err)
	require.Len(t, tree.Blocks, 2)

	centered := tree.Blocks[0].Inlines[0].Image
	assert.Equal(t, document.AlignCenter, tree.Blocks[0].Align)
	assert.Equal(t, document.AlignCenter, centered.Align)
	assert.Equal(t, 320, centered.Width)

	// Without a paragraph alignment the image keeps its own.
	own := tree.Blocks[1].Inlines[0].Image
	assert.Equal(t, document.Align(""), tree.Blocks[1].Align)
	assert.Equal(t, document.AlignRight, own.Align)
}

func TestCaptionAttachesToImageParagraph(t *testing.T) {
	doc := document.New(
		document.Block(none, document.Image(document.Remote("https://cdn/a.png"), none)),
		document.Caption("A figure"),
		document.Text("plain\n", none),
		document.Caption("orphan"),
	)
	tree, err := RenderPublished(doc)
	require.NoError(t, err)
	require.Len(t, tree.Blocks, 4)

	cap1 := tree.Blocks[1]
	assert.True(t, cap1.Caption)
	assert.Equal(t, 0, cap1.CaptionOf)
	assert.Equal(t, 0, cap1.Gap)

	cap2 := tree.Blocks[3]
	assert.True(t, cap2.Caption)
	assert.Equal(t, -1, cap2.CaptionOf, "a caption after a text paragraph is a regular block")
	assert.Equal(t, DefaultGap, cap2.Gap)
}

func TestCaptionAfterCaptionIsRegular(t *testing.T) {
	doc := document.New(
		document.Image(document.Remote("https://cdn/a.png"), none),
		document.Caption("one"),
		document.Caption("two"),
	)
	tree, err := RenderPublished(doc)
	require.NoError(t, err)
	require.Len(t, tree.Blocks, 3)
	assert.Equal(t, 0, tree.Blocks[1].CaptionOf)
	assert.Equal(t, -1, tree.Blocks[2].CaptionOf)
}

func TestRenderLocalPreview(t *testing.T) {
	src := &mapSource{files: map[string][]byte{"stg-1": []byte("png-bytes")}}
	doc := document.New(document.Image(document.Local("stg-1"), none))
	before := doc.Clone()

	tree, err := Render(doc, src)
	require.NoError(t, err)
	img := tree.Blocks[0].Inlines[0].Image
	assert.True(t, img.Local)
	assert.Equal(t, "data:image/png;base64,cG5nLWJ5dGVz", img.Src)
	assert.True(t, before.Equal(doc), "rendering must not mutate the document")

	_, err = Render(document.New(document.Image(document.Local("stg-missing"), none)), src)
	assert.Error(t, err)

	_, err = Render(doc, nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestRenderPublishedRejectsLocal(t *testing.T) {
	_, err := RenderPublished(document.New(document.Image(document.Local("stg-1"), none)))
	assert.ErrorIs(t, err, ErrLocalImage)
}

func TestRenderRejectsUnknownKind(t *testing.T) {
	_, err := RenderPublished(document.New(document.Op{Kind: "embed"}))
	assert.ErrorIs(t, err, document.ErrUnknownKind)
}

func TestHTML(t *testing.T) {
	doc := document.New(
		document.Block(document.Attributes{Align: document.AlignPtr(document.AlignCenter)},
			document.Image(document.Remote("https://cdn/a.png"), document.Attributes{Width: document.Int(200)})),
		document.Caption("Sunset <at> sea"),
		document.Text("bold", document.Attributes{Bold: document.Bool(true), Link: document.String("https://x.test")}),
		document.Text(" and false", document.Attributes{Italic: document.Bool(false)}),
	)
	tree, err := RenderPublished(doc)
	require.NoError(t, err)

	out, err := HTML(tree)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<article>"))
	assert.Contains(t, out, `<figure><p style="text-align:center;"><img src="https://cdn/a.png" alt="" width="200" data-align="center"/></p>`)
	assert.Contains(t, out, `<figcaption style="margin-top:0px;">Sunset &lt;at&gt; sea</figcaption></figure>`)
	assert.Contains(t, out, `<a href="https://x.test"><strong>bold</strong></a>`)
	assert.Contains(t, out, `<p><a href="https://x.test">`)
	assert.NotContains(t, out, "<em>", "an explicit false attribute does not format")
}

func TestCachedSource(t *testing.T) {
	src := &mapSource{files: map[string][]byte{"stg-1": []byte("a"), "stg-2": []byte("b")}}
	cached, err := NewCachedSource(src, 1)
	require.NoError(t, err)

	for range 3 {
		_, _, err := cached.Load("stg-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.loads)

	_, _, err = cached.Load("stg-2")
	require.NoError(t, err)
	_, _, err = cached.Load("stg-1")
	require.NoError(t, err)
	assert.Equal(t, 3, src.loads, "size one cache evicts the older handle")

	cached.Invalidate("stg-1")
	assert.Equal(t, 0, cached.Len())

	_, _, err = cached.Load("stg-nope")
	assert.Error(t, err)
	assert.Equal(t, 0, cached.Len(), "failed loads are not cached")

	_, err = NewCachedSource(src, 0)
	assert.Error(t, err)
}
