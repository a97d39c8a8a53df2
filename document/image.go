package document

import "fmt"

// ImageRef points at the content of an embedded image. Exactly one of Handle
// and URL is set: a Local ref names a staged temporary handle that has not
// been durably stored yet, a Remote ref names an immutable URL that is safe
// to persist.
//
// ImageRef is comparable, so two refs with the same handle are the same ref.
type ImageRef struct {
	Handle string `json:"local,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Local returns a ref to a staged handle.
func Local(handle string) ImageRef { return ImageRef{Handle: handle} }

// Remote returns a ref to a durable URL.
func Remote(url string) ImageRef { return ImageRef{URL: url} }

// IsLocal reports whether the ref still points at a staged handle.
func (r ImageRef) IsLocal() bool { return r.Handle != "" && r.URL == "" }

// IsRemote reports whether the ref points at a durable URL.
func (r ImageRef) IsRemote() bool { return r.URL != "" && r.Handle == "" }

// IsZero reports whether the ref is unset.
func (r ImageRef) IsZero() bool { return r.Handle == "" && r.URL == "" }

func (r ImageRef) String() string {
	switch {
	case r.IsLocal():
		return "local:" + r.Handle
	case r.IsRemote():
		return r.URL
	}
	return "<invalid image ref>"
}

func (r ImageRef) validate() error {
	if r.IsLocal() || r.IsRemote() {
		return nil
	}
	return fmt.Errorf("image ref %+v: %w", r, ErrInvalidImageRef)
}
