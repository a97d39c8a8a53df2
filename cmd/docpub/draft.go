package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/alexjoedt/docpub/document"
	"github.com/alexjoedt/docpub/editor"
)

// draftFile is the YAML form of a draft:
//
//	title: Trip report
//	cover: img/cover.png
//	body:
//	  - text: "Day one\n"
//	    bold: true
//	  - image: img/view.png
//	    width: 640
//	  - paragraph:
//	      align: center
//	      children:
//	        - image: img/view.png
//	  - caption: The view from the ridge
//
// Image paths are relative to the draft file.
type draftFile struct {
	Title string      `yaml:"title"`
	Cover string      `yaml:"cover"`
	Body  []draftItem `yaml:"body"`
}

type draftItem struct {
	Text      *string         `yaml:"text"`
	Image     string          `yaml:"image"`
	URL       string          `yaml:"url"`
	Caption   *string         `yaml:"caption"`
	Paragraph *draftParagraph `yaml:"paragraph"`

	Bold      *bool   `yaml:"bold"`
	Italic    *bool   `yaml:"italic"`
	Underline *bool   `yaml:"underline"`
	Strike    *bool   `yaml:"strike"`
	Color     *string `yaml:"color"`
	Link      *string `yaml:"link"`
	Width     *int    `yaml:"width"`
	Align     string  `yaml:"align"`
}

type draftParagraph struct {
	Align    string      `yaml:"align"`
	Children []draftItem `yaml:"children"`
}

var errDraftItem = errors.New("draft item needs exactly one of text, image, url, caption or paragraph")

func readDraft(path string) (*draftFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	var d draftFile
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse draft %s: %w", path, err)
	}
	return &d, nil
}

// draftLoader replays a draft into a session.
type draftLoader struct {
	session *editor.Session
	baseDir string
}

func loadDraft(s *editor.Session, path string) error {
	d, err := readDraft(path)
	if err != nil {
		return err
	}
	l := draftLoader{session: s, baseDir: filepath.Dir(path)}

	if err := s.SetTitle(d.Title); err != nil {
		return err
	}
	if d.Cover != "" {
		data, err := l.readImage(d.Cover)
		if err != nil {
			return err
		}
		if _, err := s.SetCover(data); err != nil {
			return fmt.Errorf("cover %s: %w", d.Cover, err)
		}
	}
	for i, item := range d.Body {
		op, err := l.op(item, false)
		if err != nil {
			return fmt.Errorf("body[%d]: %w", i, err)
		}
		if err := s.Append(op); err != nil {
			return fmt.Errorf("body[%d]: %w", i, err)
		}
	}
	return nil
}

func (l draftLoader) readImage(rel string) ([]byte, error) {
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.baseDir, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

func (l draftLoader) op(item draftItem, inline bool) (document.Op, error) {
	kinds := 0
	for _, set := range []bool{item.Text != nil, item.Image != "", item.URL != "", item.Caption != nil, item.Paragraph != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return document.Op{}, errDraftItem
	}

	attrs, err := item.attributes()
	if err != nil {
		return document.Op{}, err
	}
	switch {
	case item.Text != nil:
		return document.Text(*item.Text, attrs), nil
	case item.URL != "":
		return document.Image(document.Remote(item.URL), attrs), nil
	case item.Image != "":
		data, err := l.readImage(item.Image)
		if err != nil {
			return document.Op{}, err
		}
		ref, err := l.session.StageImage(data)
		if err != nil {
			return document.Op{}, fmt.Errorf("stage %s: %w", item.Image, err)
		}
		return document.Image(ref, attrs), nil
	}
	if inline {
		return document.Op{}, errors.New("paragraph children must be text or images")
	}
	if item.Caption != nil {
		return document.Caption(*item.Caption), nil
	}

	var blockAttrs document.Attributes
	if item.Paragraph.Align != "" {
		align, err := document.ParseAlign(item.Paragraph.Align)
		if err != nil {
			return document.Op{}, err
		}
		blockAttrs.Align = &align
	}
	children := make([]document.Op, 0, len(item.Paragraph.Children))
	for i, child := range item.Paragraph.Children {
		op, err := l.op(child, true)
		if err != nil {
			return document.Op{}, fmt.Errorf("children[%d]: %w", i, err)
		}
		children = append(children, op)
	}
	return document.Block(blockAttrs, children...), nil
}

func (item draftItem) attributes() (document.Attributes, error) {
	attrs := document.Attributes{
		Bold:      item.Bold,
		Italic:    item.Italic,
		Underline: item.Underline,
		Strike:    item.Strike,
		Color:     item.Color,
		Link:      item.Link,
		Width:     item.Width,
	}
	if item.Align != "" {
		align, err := document.ParseAlign(item.Align)
		if err != nil {
			return attrs, err
		}
		attrs.Align = &align
	}
	return attrs, nil
}
