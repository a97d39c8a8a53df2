package document

import (
	"encoding/json"
	"fmt"
)

// Article is the durable artifact handed to persistence: a title, a cover
// URL and a fully resolved body.
type Article struct {
	Title    string
	CoverURL string
	Body     Document
}

type articleJSON struct {
	Title    string          `json:"title"`
	CoverURL string          `json:"cover_url,omitempty"`
	Ops      json.RawMessage `json:"ops"`
}

// MarshalArticle encodes a. The body must be resolved.
func MarshalArticle(a Article) ([]byte, error) {
	body, err := a.Body.Serialize()
	if err != nil {
		return nil, fmt.Errorf("article %q: %w", a.Title, err)
	}
	return json.Marshal(articleJSON{Title: a.Title, CoverURL: a.CoverURL, Ops: body})
}

// UnmarshalArticle decodes data produced by MarshalArticle.
func UnmarshalArticle(data []byte) (Article, error) {
	var raw articleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Article{}, fmt.Errorf("decoding article: %w", err)
	}
	body, err := Deserialize(raw.Ops)
	if err != nil {
		return Article{}, fmt.Errorf("article %q: %w", raw.Title, err)
	}
	return Article{Title: raw.Title, CoverURL: raw.CoverURL, Body: body}, nil
}

// Equal reports whether a and b carry the same title, cover and ops.
func (a Article) Equal(b Article) bool {
	return a.Title == b.Title && a.CoverURL == b.CoverURL && a.Body.Equal(b.Body)
}
