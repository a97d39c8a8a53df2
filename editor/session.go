// Package editor implements the editing session: the owner of one draft,
// its staged images and its publish lifecycle.
//
// A Session tracks every image handle it ever staged. Whatever happens to
// the draft (images deleted, the draft reset, a publish discarded half way)
// each handle is released exactly once: when a publish commits its uploads,
// on Reset or Close, or after publishing. Commits release under the session
// lock, so a handle the session holds is always backed by staged content.
//
// Mutations notify observers with a Change carrying the new op list and a
// rendered preview. Observers run outside the session lock and may call
// back into the session.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alexjoedt/docpub/document"
	"github.com/alexjoedt/docpub/persist"
	"github.com/alexjoedt/docpub/publish"
	"github.com/alexjoedt/docpub/render"
	"github.com/alexjoedt/docpub/staging"
)

var (
	ErrPreconditionNotMet = errors.New("title and body are required")
	ErrSubmitInProgress   = errors.New("submit already in progress")
	ErrDiscarded          = errors.New("session was discarded")
	ErrPublished          = errors.New("session is already published")
	ErrForeignHandle      = errors.New("image handle was not staged in this session")
	ErrPersistenceFailed  = errors.New("persisting the article failed")
)

// Publisher resolves a draft's images. *publish.Resolver implements it.
type Publisher interface {
	Resolve(ctx context.Context, req publish.Request) (*publish.Result, error)
}

// Change is delivered to observers after every state or content change.
type Change struct {
	State   State
	Title   string
	Ops     []document.Op
	Cover   document.ImageRef
	Preview *render.Tree // nil when the preview could not be rendered
	Err     error        // preview or submit failure, if any
}

// Observer receives changes.
type Observer func(Change)

// Session is one editing session.
type Session struct {
	id        string
	store     *staging.Store
	publisher Publisher
	creator   persist.Creator
	preview   *render.CachedSource
	log       *slog.Logger
	observers []Observer

	mu        sync.Mutex
	state     State
	title     string
	doc       document.Document
	cover     document.ImageRef
	tracked   map[string]struct{}
	epoch     uint64
	articleID string
}

// Option configures a Session.
type Option func(*Session)

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithID sets the session id used in logs. A random id is used otherwise.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

const previewCacheSize = 64

// New creates a session that stages into store, publishes through
// publisher and persists through creator. The session owns store and
// closes it in Close.
func New(store *staging.Store, publisher Publisher, creator persist.Creator, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		store:     store,
		publisher: publisher,
		creator:   creator,
		log:       slog.Default(),
		tracked:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// The size is a positive constant.
	s.preview, _ = render.NewCachedSource(store, previewCacheSize)
	s.log = s.log.With("component", "editor", "session", s.id)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Title returns the current title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Document returns a snapshot of the draft.
func (s *Session) Document() document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Cover returns the cover ref; zero when unset.
func (s *Session) Cover() document.ImageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cover
}

// ArticleID returns the persisted id once the session is published.
func (s *Session) ArticleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.articleID
}

// Tracked returns the number of staged handles the session still owns.
func (s *Session) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// Preview renders the current draft.
func (s *Session) Preview() (*render.Tree, error) {
	return render.Render(s.Document(), s.preview)
}

// SetTitle replaces the title.
func (s *Session) SetTitle(title string) error {
	return s.mutate(func() error {
		s.title = title
		return nil
	})
}

// InsertText appends a text run.
func (s *Session) InsertText(text string, attrs document.Attributes) error {
	return s.Append(document.Text(text, attrs))
}

// StageImage stages data and returns a Local ref owned by this session,
// without changing the draft.
func (s *Session) StageImage(data []byte) (document.ImageRef, error) {
	s.mu.Lock()
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return document.ImageRef{}, err
	}
	s.mu.Unlock()

	staged, err := s.store.Stage(data)
	if err != nil {
		return document.ImageRef{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		// Reset won the race; the handle is no longer ours to keep.
		if !staged.Reused {
			_ = s.store.Release(staged.Handle)
		}
		return document.ImageRef{}, err
	}
	if _, live := s.store.HashOf(staged.Handle); !live {
		// A publish committed and released the reused entry after Stage
		// returned. Nothing can release it again while mu is held.
		if staged, err = s.store.Stage(data); err != nil {
			return document.ImageRef{}, err
		}
	}
	s.tracked[staged.Handle] = struct{}{}
	s.log.Debug("image staged", "handle", staged.Handle, "hash", staged.Hash, "reused", staged.Reused)
	return document.Local(staged.Handle), nil
}

// InsertImage stages data and appends an image op referencing it.
func (s *Session) InsertImage(data []byte, attrs document.Attributes) (document.ImageRef, error) {
	ref, err := s.StageImage(data)
	if err != nil {
		return document.ImageRef{}, err
	}
	if err := s.Append(document.Image(ref, attrs)); err != nil {
		return document.ImageRef{}, err
	}
	return ref, nil
}

// SetCover stages data as the cover image.
func (s *Session) SetCover(data []byte) (document.ImageRef, error) {
	ref, err := s.StageImage(data)
	if err != nil {
		return document.ImageRef{}, err
	}
	err = s.mutate(func() error {
		s.cover = ref
		return nil
	})
	return ref, err
}

// Append appends op. Local refs in op must have been staged by this
// session.
func (s *Session) Append(op document.Op) error {
	return s.mutate(func() error {
		if err := s.checkOp(op); err != nil {
			return err
		}
		s.doc.Append(op)
		return nil
	})
}

// ReplaceAt replaces the op at index i.
func (s *Session) ReplaceAt(i int, op document.Op) error {
	return s.mutate(func() error {
		if err := s.checkOp(op); err != nil {
			return err
		}
		return s.doc.ReplaceAt(i, op)
	})
}

// RemoveAt deletes the op at index i. Images it referenced stay staged
// until the session ends.
func (s *Session) RemoveAt(i int) error {
	return s.mutate(func() error {
		_, err := s.doc.RemoveAt(i)
		return err
	})
}

// Format merges attrs into the op at index i.
func (s *Session) Format(i int, attrs document.Attributes) error {
	return s.mutate(func() error {
		op, err := s.doc.At(i)
		if err != nil {
			return err
		}
		op.Attributes = op.Attributes.Merge(attrs)
		if err := op.Validate(); err != nil {
			return err
		}
		return s.doc.ReplaceAt(i, op)
	})
}

// SetAlign sets the alignment of the op at index i. On a block this is
// the paragraph alignment.
func (s *Session) SetAlign(i int, align document.Align) error {
	if !align.Valid() {
		return fmt.Errorf("align %q: %w", align, document.ErrInvalidAttribute)
	}
	return s.Format(i, document.Attributes{Align: document.AlignPtr(align)})
}

// AddCaption appends a caption block.
func (s *Session) AddCaption(text string) error {
	return s.Append(document.Caption(text))
}

// checkOp validates op and its Local refs. Caller holds mu.
func (s *Session) checkOp(op document.Op) error {
	if err := op.Validate(); err != nil {
		return err
	}
	for _, ref := range document.New(op).CollectImageRefs() {
		if !ref.IsLocal() {
			continue
		}
		if _, ok := s.tracked[ref.Handle]; !ok {
			return fmt.Errorf("handle %s: %w", ref.Handle, ErrForeignHandle)
		}
	}
	return nil
}

// editable reports whether the draft may change. Caller holds mu.
func (s *Session) editable() error {
	switch s.state {
	case StateDiscarded:
		return ErrDiscarded
	case StatePublished:
		return ErrPublished
	}
	return nil
}

// mutate applies fn under the lock and notifies observers.
func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state == StateEmpty {
		s.state = StateEditing
	}
	s.mu.Unlock()

	s.notify(nil)
	return nil
}

// notify renders a preview of the current draft and delivers it. Must not
// be called with mu held.
func (s *Session) notify(err error) {
	if len(s.observers) == 0 {
		return
	}
	s.mu.Lock()
	change := Change{
		State: s.state,
		Title: s.title,
		Ops:   s.doc.Ops(),
		Cover: s.cover,
		Err:   err,
	}
	doc := s.doc.Clone()
	live := !s.state.Terminal()
	s.mu.Unlock()

	if live {
		tree, perr := render.Render(doc, s.preview)
		if perr == nil {
			change.Preview = tree
		} else if change.Err == nil {
			change.Err = perr
		}
	}
	for _, o := range s.observers {
		o(change)
	}
}

// Submit publishes the draft: it uploads staged images, persists the
// resolved article and returns its id.
//
// Submit fails with ErrPreconditionNotMet, without any I/O, while the title
// or the body is empty, and with ErrSubmitInProgress while another submit
// runs. On an upload failure the session returns to Editing with the draft
// and its staged images untouched. On a persistence failure the session
// returns to Editing holding the resolved draft, so a retry uploads
// nothing. A Reset during the submit discards its results and Submit
// returns ErrDiscarded. A published session holds the persisted document,
// so edits made while the submit ran do not survive it.
func (s *Session) Submit(ctx context.Context) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateDiscarded:
		s.mu.Unlock()
		return "", ErrDiscarded
	case StatePublished:
		s.mu.Unlock()
		return "", ErrPublished
	case StateSubmitting:
		s.mu.Unlock()
		return "", ErrSubmitInProgress
	}
	if strings.TrimSpace(s.title) == "" || s.doc.Empty() {
		s.mu.Unlock()
		return "", ErrPreconditionNotMet
	}
	s.state = StateSubmitting
	epoch := s.epoch
	title := s.title
	req := publish.Request{Body: s.doc.Clone(), Cover: s.cover}
	s.mu.Unlock()

	s.notify(nil)
	s.log.Info("submitting")

	req.Apply = func(res *publish.Result) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch || s.state != StateSubmitting {
			return false
		}
		// Edits made while uploading are kept; only resolved refs change.
		s.doc = res.Rewrite(s.doc)
		if s.cover.IsLocal() {
			if url, ok := res.Handles[s.cover.Handle]; ok {
				s.cover = document.Remote(url)
			}
		}
		for handle := range res.Handles {
			delete(s.tracked, handle)
			s.preview.Invalidate(handle)
		}
		res.Release()
		return true
	}

	res, err := s.publisher.Resolve(ctx, req)
	if err != nil {
		if errors.Is(err, publish.ErrDiscarded) || s.discardedSince(epoch) {
			return "", ErrDiscarded
		}
		s.fail(err)
		return "", err
	}

	if s.discardedSince(epoch) {
		return "", ErrDiscarded
	}
	id, err := s.creator.Create(ctx, title, res.Body, res.CoverURL)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
		if s.discardedSince(epoch) {
			return "", ErrDiscarded
		}
		s.fail(err)
		return "", err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Reset raced the create; the article exists but the session is gone.
		s.mu.Unlock()
		s.log.Warn("article persisted after reset", "article", id)
		return id, ErrDiscarded
	}
	s.state = StatePublished
	s.articleID = id
	// The session now shows what was persisted. Edits made while submitting
	// are dropped along with the images they staged.
	s.doc = res.Body.Clone()
	s.cover = document.ImageRef{}
	if res.CoverURL != "" {
		s.cover = document.Remote(res.CoverURL)
	}
	leftover := s.takeTracked()
	s.mu.Unlock()

	s.release(leftover)
	s.log.Info("published", "article", id, "released", len(leftover))
	s.notify(nil)
	return id, nil
}

func (s *Session) discardedSince(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch != epoch
}

// fail moves a failed submit back to Editing through FailedSubmit.
func (s *Session) fail(err error) {
	s.log.Warn("submit failed", "error", err)

	s.mu.Lock()
	s.state = StateFailedSubmit
	s.mu.Unlock()
	s.notify(err)

	s.mu.Lock()
	if s.state == StateFailedSubmit {
		s.state = StateEditing
	}
	s.mu.Unlock()
	s.notify(nil)
}

// Reset discards the draft and releases every staged image exactly once.
// A submit in flight completes its uploads but its results are dropped.
// Reset is idempotent and a no-op on a published session.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateDiscarded
	s.epoch++
	s.title = ""
	s.doc = document.Document{}
	s.cover = document.ImageRef{}
	handles := s.takeTracked()
	s.mu.Unlock()

	s.release(handles)
	s.log.Info("session discarded", "released", len(handles))
	s.notify(nil)
}

// Close resets the session unless it is published and closes its staging
// store.
func (s *Session) Close() error {
	s.Reset()
	return s.store.Close()
}

// takeTracked empties the tracked set. Caller holds mu.
func (s *Session) takeTracked() []string {
	handles := make([]string, 0, len(s.tracked))
	for h := range s.tracked {
		handles = append(handles, h)
	}
	clear(s.tracked)
	return handles
}

func (s *Session) release(handles []string) {
	for _, h := range handles {
		s.preview.Invalidate(h)
		if err := s.store.Release(h); err != nil {
			s.log.Warn("releasing staged image", "handle", h, "error", err)
		}
	}
}
