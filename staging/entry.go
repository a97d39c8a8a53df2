package staging

import "time"

// Entry describes one staged piece of content. There is at most one entry
// per content hash in a Store.
type Entry struct {
	Hash        ContentHash `json:"hash"`        // Digest of the bytes the caller staged
	Handle      string      `json:"handle"`      // Local handle referenced by image ops
	Size        int64       `json:"size"`        // Size of the staged file in bytes
	ContentType string      `json:"contentType"` // MIME type detected from the staged bytes
	Width       int         `json:"width"`       // Pixel width, 0 if unknown
	Height      int         `json:"height"`      // Pixel height, 0 if unknown
	Scaled      bool        `json:"scaled"`      // Whether the bytes were downscaled before staging
	CreatedAt   time.Time   `json:"createdAt"`

	path string
}

// Staged is the result of Stage.
type Staged struct {
	Handle string
	Hash   ContentHash
	// Reused is true when the content was already staged in this session
	// and no new temporary resource was created.
	Reused bool
}
