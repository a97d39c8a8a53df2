package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjoedt/docpub/assets"
	"github.com/alexjoedt/docpub/document"
	"github.com/alexjoedt/docpub/persist"
	"github.com/alexjoedt/docpub/publish"
	"github.com/alexjoedt/docpub/staging"
)

func pngBytes(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(2, 2, color.RGBA{R: seed, G: 9, B: 99, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	store    *staging.Store
	uploader *assets.MemoryStore
	articles *persist.MemoryStore
	session  *Session
}

func newFixture(t *testing.T, uploader assets.Uploader, opts ...Option) *fixture {
	t.Helper()
	store, err := staging.New(t.TempDir())
	require.NoError(t, err)

	f := &fixture{store: store, articles: persist.NewMemoryStore()}
	if uploader == nil {
		f.uploader = assets.NewMemoryStore("https://cdn.test")
		uploader = f.uploader
	}
	f.session = New(store, publish.NewResolver(store, uploader), f.articles, opts...)
	t.Cleanup(func() { _ = f.session.Close() })
	return f
}

func countLocal(doc document.Document) int {
	n := 0
	for _, ref := range doc.CollectImageRefs() {
		if ref.IsLocal() {
			n++
		}
	}
	return n
}

func TestPublishDeduplicatesAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	a, b := pngBytes(t, 1), pngBytes(t, 2)

	require.NoError(t, s.SetTitle("Trip report"))
	require.NoError(t, s.InsertText("Day one\n", document.Attributes{}))
	for range 3 {
		_, err := s.InsertImage(a, document.Attributes{})
		require.NoError(t, err)
	}
	_, err := s.InsertImage(b, document.Attributes{Width: document.Int(100)})
	require.NoError(t, err)
	require.NoError(t, s.AddCaption("the view"))
	assert.Equal(t, 2, f.store.Len())
	assert.Equal(t, 2, s.Tracked())

	id, err := s.Submit(t.Context())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StatePublished, s.State())
	assert.Equal(t, id, s.ArticleID())

	assert.Equal(t, 2, f.uploader.Calls())
	assert.Equal(t, 0, f.store.Len(), "published content must be released")
	assert.Equal(t, 0, s.Tracked())

	article, err := f.articles.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "Trip report", article.Title)
	refs := article.Body.CollectImageRefs()
	require.Len(t, refs, 4)
	for _, ref := range refs {
		assert.True(t, ref.IsRemote(), ref.String())
	}
	assert.Equal(t, refs[0], refs[1])
	assert.Equal(t, refs[0], refs[2])
	assert.NotEqual(t, refs[0], refs[3])

	_, err = s.Submit(t.Context())
	assert.ErrorIs(t, err, ErrPublished)
	assert.ErrorIs(t, s.SetTitle("again"), ErrPublished)
}

func TestSubmitPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session

	_, err := s.Submit(t.Context())
	assert.ErrorIs(t, err, ErrPreconditionNotMet)
	assert.Equal(t, StateEmpty, s.State())

	_, err = s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)
	_, err = s.Submit(t.Context())
	assert.ErrorIs(t, err, ErrPreconditionNotMet, "missing title")

	require.NoError(t, s.SetTitle("  "))
	_, err = s.Submit(t.Context())
	assert.ErrorIs(t, err, ErrPreconditionNotMet, "blank title")

	assert.Equal(t, StateEditing, s.State())
	assert.Equal(t, 0, f.uploader.Calls(), "no I/O before the preconditions hold")
}

func TestUploadFailureKeepsDraft(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	bad := pngBytes(t, 7)

	require.NoError(t, s.SetTitle("t"))
	_, err := s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)
	ref, err := s.InsertImage(bad, document.Attributes{})
	require.NoError(t, err)

	f.uploader.FailHash = string(f.store.ComputeHash(bad))
	var states []State
	var mu sync.Mutex
	s.observers = append(s.observers, func(c Change) {
		mu.Lock()
		states = append(states, c.State)
		mu.Unlock()
	})

	_, err = s.Submit(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, publish.ErrUploadFailed)
	assert.Equal(t, StateEditing, s.State())
	assert.Equal(t, 2, countLocal(s.Document()), "the draft is untouched")
	assert.Equal(t, 2, f.store.Len(), "nothing is released")
	_, ok := f.store.HashOf(ref.Handle)
	assert.True(t, ok)
	assert.Equal(t, []State{StateSubmitting, StateFailedSubmit, StateEditing}, states)

	f.uploader.FailHash = ""
	_, err = s.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.Len())
}

func TestPersistenceFailureRetryUploadsNothing(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	cover := pngBytes(t, 3)

	require.NoError(t, s.SetTitle("t"))
	_, err := s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)
	_, err = s.SetCover(cover)
	require.NoError(t, err)

	f.articles.FailNext(errors.New("database unavailable"))
	_, err = s.Submit(t.Context())
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.Equal(t, StateEditing, s.State())
	assert.Equal(t, 2, f.uploader.Calls())
	assert.Equal(t, 0, countLocal(s.Document()), "the live draft holds the uploaded urls")
	assert.True(t, s.Cover().IsRemote())
	assert.Equal(t, 0, f.store.Len())

	id, err := s.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, f.uploader.Calls(), "the retry uploads nothing")

	article, err := f.articles.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, s.Cover().URL, article.CoverURL)
}

// blockingUploader parks every upload until release is closed.
type blockingUploader struct {
	next    assets.Uploader
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingUploader) Upload(ctx context.Context, obj assets.Object) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.next.Upload(ctx, obj)
}

func TestReentrantSubmitRejected(t *testing.T) {
	mem := assets.NewMemoryStore("https://cdn.test")
	up := &blockingUploader{next: mem, started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, up)
	s := f.session

	require.NoError(t, s.SetTitle("t"))
	_, err := s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()
	<-up.started
	assert.Equal(t, StateSubmitting, s.State())

	_, err = s.Submit(t.Context())
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	// Edits are accepted while the submit runs but are not part of it.
	require.NoError(t, s.InsertText("late words", document.Attributes{}))
	_, err = s.InsertImage(pngBytes(t, 2), document.Attributes{})
	require.NoError(t, err)

	close(up.release)
	require.NoError(t, <-done)
	id := s.ArticleID()
	assert.Equal(t, 1, mem.Calls())
	assert.Equal(t, StatePublished, s.State())

	article, err := f.articles.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, article.Body.Ops(), s.Document().Ops(), "the session shows what was persisted")
	assert.Equal(t, 0, countLocal(s.Document()))
	assert.Equal(t, 0, s.Tracked())
	assert.Equal(t, 0, f.store.Len(), "the late image is released")
}

// restagingSource re-inserts an image from another goroutine when the
// first resolved handle is released, and gives the insert a moment to land
// before the release goes through.
type restagingSource struct {
	*staging.Store
	once     sync.Once
	insert   func()
	inserted chan struct{}
}

func (r *restagingSource) Release(handle string) error {
	r.once.Do(func() {
		go func() {
			defer close(r.inserted)
			r.insert()
		}()
		select {
		case <-r.inserted:
		case <-time.After(200 * time.Millisecond):
		}
	})
	return r.Store.Release(handle)
}

func TestReinsertDuringCommitKeepsHandlesValid(t *testing.T) {
	store, err := staging.New(t.TempDir())
	require.NoError(t, err)
	mem := assets.NewMemoryStore("https://cdn.test")
	articles := persist.NewMemoryStore()
	a := pngBytes(t, 1)

	src := &restagingSource{Store: store, inserted: make(chan struct{})}
	s := New(store, publish.NewResolver(src, mem), articles)
	t.Cleanup(func() { _ = s.Close() })
	src.insert = func() {
		_, err := s.InsertImage(a, document.Attributes{})
		assert.NoError(t, err)
	}

	require.NoError(t, s.SetTitle("t"))
	_, err = s.InsertImage(a, document.Attributes{})
	require.NoError(t, err)

	articles.FailNext(errors.New("database unavailable"))
	_, err = s.Submit(t.Context())
	require.ErrorIs(t, err, ErrPersistenceFailed)
	<-src.inserted
	assert.Equal(t, StateEditing, s.State())

	doc := s.Document()
	require.Equal(t, 1, countLocal(doc))
	for _, ref := range doc.CollectImageRefs() {
		if ref.IsLocal() {
			_, live := store.HashOf(ref.Handle)
			assert.True(t, live, "handle %s is still staged", ref.Handle)
		}
	}
	_, err = s.Preview()
	require.NoError(t, err)

	_, err = s.Submit(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatePublished, s.State())
	assert.Equal(t, 0, store.Len())
}

func TestResetDuringSubmitDiscardsResults(t *testing.T) {
	mem := assets.NewMemoryStore("https://cdn.test")
	up := &blockingUploader{next: mem, started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, up)
	s := f.session

	require.NoError(t, s.SetTitle("t"))
	_, err := s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()
	<-up.started

	s.Reset()
	assert.Equal(t, StateDiscarded, s.State())
	assert.Equal(t, 0, f.store.Len(), "reset releases every staged image")

	close(up.release)
	assert.ErrorIs(t, <-done, ErrDiscarded)
	assert.Equal(t, StateDiscarded, s.State())
	assert.Equal(t, 0, f.articles.Len(), "nothing is persisted")
	assert.Equal(t, 0, f.store.Len())
}

func TestResetReleasesEverythingOnce(t *testing.T) {
	var (
		mu       sync.Mutex
		released = map[string]int{}
	)
	store, err := staging.New(t.TempDir(), staging.WithReleaseHook(func(e staging.Entry) {
		mu.Lock()
		released[e.Handle]++
		mu.Unlock()
	}))
	require.NoError(t, err)
	s := New(store, publish.NewResolver(store, assets.NewMemoryStore("https://cdn.test")), persist.NewMemoryStore())
	defer s.Close()

	first, err := s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)
	_, err = s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)
	orphan, err := s.StageImage(pngBytes(t, 2))
	require.NoError(t, err)
	cover, err := s.SetCover(pngBytes(t, 3))
	require.NoError(t, err)
	require.NoError(t, s.RemoveAt(0))
	assert.Equal(t, 3, store.Len())

	s.Reset()
	s.Reset()
	require.NoError(t, s.Close())

	assert.Equal(t, map[string]int{first.Handle: 1, orphan.Handle: 1, cover.Handle: 1}, released)
	assert.Equal(t, 0, store.Len())
	assert.True(t, s.Document().Empty())

	_, err = s.Submit(t.Context())
	assert.ErrorIs(t, err, ErrDiscarded)
	_, err = s.StageImage(pngBytes(t, 4))
	assert.ErrorIs(t, err, ErrDiscarded)
}

func TestForeignHandleRejected(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session

	err := s.Append(document.Image(document.Local("stg-not-mine"), document.Attributes{}))
	assert.ErrorIs(t, err, ErrForeignHandle)

	ref, err := s.StageImage(pngBytes(t, 1))
	require.NoError(t, err)
	require.NoError(t, s.Append(document.Block(document.Attributes{}, document.Image(ref, document.Attributes{}))))

	err = s.ReplaceAt(0, document.Block(document.Attributes{}, document.Image(document.Local("stg-other"), document.Attributes{})))
	assert.ErrorIs(t, err, ErrForeignHandle)
	require.NoError(t, s.Append(document.Image(document.Remote("https://elsewhere.test/x.png"), document.Attributes{})))
}

func TestFormattingOperations(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session

	require.NoError(t, s.InsertText("hello", document.Attributes{}))
	require.NoError(t, s.Format(0, document.Attributes{Bold: document.Bool(true)}))
	require.NoError(t, s.SetAlign(0, document.AlignRight))
	assert.Error(t, s.SetAlign(0, document.Align("diagonal")))
	assert.ErrorIs(t, s.Format(5, document.Attributes{}), document.ErrIndexOutOfRange)
	assert.ErrorIs(t, s.RemoveAt(-1), document.ErrIndexOutOfRange)

	op, err := s.Document().At(0)
	require.NoError(t, err)
	assert.True(t, *op.Attributes.Bold)
	align, ok := op.Attributes.Alignment()
	require.True(t, ok)
	assert.Equal(t, document.AlignRight, align)
}

func TestObserversReceivePreview(t *testing.T) {
	var (
		mu      sync.Mutex
		changes []Change
	)
	f := newFixture(t, nil, WithObserver(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}))
	s := f.session

	require.NoError(t, s.InsertText("caption me\n", document.Attributes{}))
	_, err := s.InsertImage(pngBytes(t, 1), document.Attributes{})
	require.NoError(t, err)
	require.NoError(t, s.AddCaption("under the image"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)
	last := changes[2]
	assert.Equal(t, StateEditing, last.State)
	assert.Len(t, last.Ops, 3)
	require.NotNil(t, last.Preview)
	require.NoError(t, last.Err)

	var captioned bool
	for _, b := range last.Preview.Blocks {
		if b.Caption && b.CaptionOf >= 0 {
			captioned = true
		}
	}
	assert.True(t, captioned, "the caption attaches to the image paragraph")
}

func TestObserverMayCallBack(t *testing.T) {
	var s *Session
	titles := make(chan string, 4)
	f := newFixture(t, nil, WithObserver(func(c Change) {
		titles <- s.Title()
	}))
	s = f.session

	require.NoError(t, s.SetTitle("x"))
	assert.Equal(t, "x", <-titles)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "failed_submit", StateFailedSubmit.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateDiscarded.Terminal())
	assert.False(t, StateSubmitting.Terminal())
}
