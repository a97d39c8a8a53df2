package assets

import "time"

// Meta is the JSON sidecar stored next to every object in a FileStore, so
// listings and idempotency checks never read object data.
type Meta struct {
	Key         string    `json:"key"`
	Hash        string    `json:"hash,omitempty"` // Content hash the object was published under
	Size        int64     `json:"size"`
	Sha256      string    `json:"sha256"` // Of the stored bytes
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}
