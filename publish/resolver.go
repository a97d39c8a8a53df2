// Package publish turns a draft whose images live in a staging store into a
// fully resolved document whose images all point at permanent URLs.
//
// A resolve snapshots the draft, uploads every distinct piece of staged
// content exactly once, rewrites every Local ref to its Remote URL and hands
// the result to the caller's commit step. Staged content is released only
// once that commit succeeded, either by the commit step itself through
// Result.Release or by the resolver right after it. If any upload fails nothing is rewritten,
// committed or released, and the attempt can simply be retried.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/alexjoedt/docpub/assets"
	"github.com/alexjoedt/docpub/document"
	"github.com/alexjoedt/docpub/staging"
)

const tracerName = "github.com/alexjoedt/docpub/publish"

const defaultConcurrency = 4

var (
	ErrUploadFailed   = errors.New("image upload failed")
	ErrDiscarded      = errors.New("publish result discarded")
	ErrUnknownHandle  = errors.New("local image is not staged")
	ErrMissingContent = errors.New("staged content is no longer available")
)

// UploadError reports the content hash whose upload failed. It matches
// ErrUploadFailed and the underlying cause with errors.Is.
type UploadError struct {
	Hash staging.ContentHash
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Hash, e.Err)
}

func (e *UploadError) Unwrap() []error { return []error{ErrUploadFailed, e.Err} }

// Source is the part of a staging store a resolve needs.
type Source interface {
	HashOf(handle string) (staging.ContentHash, bool)
	Load(handle string) ([]byte, string, error)
	Release(handle string) error
}

// UploadRecord maps each content hash uploaded during one resolve to its
// permanent URL.
type UploadRecord map[staging.ContentHash]string

// UploaderFunc adapts a function to assets.Uploader.
type UploaderFunc func(ctx context.Context, obj assets.Object) (string, error)

func (f UploaderFunc) Upload(ctx context.Context, obj assets.Object) (string, error) {
	return f(ctx, obj)
}

// Request is one publish attempt.
type Request struct {
	Body  document.Document
	Cover document.ImageRef // zero when there is no cover

	// Apply commits the result. It runs after every upload succeeded and
	// before any staged content is released. Apply may call Result.Release
	// to free the resolved content while it still holds its own locks;
	// otherwise Resolve releases it after Apply returns. Returning false
	// means the caller no longer wants the result: Resolve then fails with
	// ErrDiscarded and releases nothing. A nil Apply always commits.
	Apply func(*Result) bool
}

// Result is a resolved publish attempt.
type Result struct {
	Body     document.Document
	CoverURL string
	Record   UploadRecord

	// Handles maps every Local handle that was resolved to its URL.
	Handles map[string]string

	store   Source
	log     *slog.Logger
	release sync.Once
}

// Release frees the staged content of every resolved handle. Only the
// first call does anything.
func (r *Result) Release() {
	r.release.Do(func() {
		if r.store == nil {
			return
		}
		for handle := range r.Handles {
			if err := r.store.Release(handle); err != nil {
				r.log.Warn("releasing published content", "handle", handle, "error", err)
			}
		}
	})
}

// Rewrite replaces every Local ref in doc whose handle was resolved in
// this attempt. Refs to handles staged after the snapshot are kept.
func (r *Result) Rewrite(doc document.Document) document.Document {
	return doc.RewriteImages(func(ref document.ImageRef) (document.ImageRef, bool) {
		if !ref.IsLocal() {
			return ref, false
		}
		url, ok := r.Handles[ref.Handle]
		if !ok {
			return ref, false
		}
		return document.Remote(url), true
	})
}

// Resolver resolves drafts against one staging store and one uploader.
type Resolver struct {
	store       Source
	uploader    assets.Uploader
	concurrency int
	log         *slog.Logger
	tracer      trace.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConcurrency bounds the number of uploads in flight. Values below one
// mean one.
func WithConcurrency(n int) Option {
	return func(r *Resolver) { r.concurrency = max(n, 1) }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Resolver) { r.tracer = tp.Tracer(tracerName) }
}

// NewResolver creates a Resolver.
func NewResolver(store Source, uploader assets.Uploader, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		uploader:    uploader,
		concurrency: defaultConcurrency,
		log:         slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "publish")
	return r
}

// pending is one distinct piece of content to upload.
type pending struct {
	hash   staging.ContentHash
	handle string
}

// Resolve runs one publish attempt.
func (r *Resolver) Resolve(ctx context.Context, req Request) (_ *Result, err error) {
	ctx, span := r.tracer.Start(ctx, "publish.Resolve")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body := req.Body.Clone()
	cover := req.Cover

	work, handles, err := r.plan(body, cover)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("publish.local_handles", len(handles)),
		attribute.Int("publish.uploads", len(work)),
	)

	record, err := r.upload(ctx, work)
	if err != nil {
		r.log.Warn("publish failed", "error", err)
		return nil, err
	}

	res := &Result{
		Record:  record,
		Handles: make(map[string]string, len(handles)),
		store:   r.store,
		log:     r.log,
	}
	for handle, hash := range handles {
		res.Handles[handle] = record[hash]
	}
	res.Body = res.Rewrite(body)
	switch {
	case cover.IsLocal():
		res.CoverURL = res.Handles[cover.Handle]
	case cover.IsRemote():
		res.CoverURL = cover.URL
	}

	if req.Apply != nil && !req.Apply(res) {
		r.log.Info("publish result discarded", "uploads", len(work))
		return nil, ErrDiscarded
	}

	res.Release()
	r.log.Info("published", "uploads", len(work), "handles", len(handles))
	return res, nil
}

// plan maps every Local ref of the snapshot to its content hash and picks
// one handle per distinct hash.
func (r *Resolver) plan(body document.Document, cover document.ImageRef) ([]pending, map[string]staging.ContentHash, error) {
	if err := body.Validate(); err != nil {
		return nil, nil, err
	}
	refs := body.CollectImageRefs()
	if !cover.IsZero() {
		refs = append(refs, cover)
	}

	handles := make(map[string]staging.ContentHash)
	seen := make(map[staging.ContentHash]struct{})
	var work []pending
	for _, ref := range refs {
		if !ref.IsLocal() {
			continue
		}
		if _, done := handles[ref.Handle]; done {
			continue
		}
		hash, ok := r.store.HashOf(ref.Handle)
		if !ok {
			return nil, nil, fmt.Errorf("handle %s: %w", ref.Handle, ErrUnknownHandle)
		}
		handles[ref.Handle] = hash
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		work = append(work, pending{hash: hash, handle: ref.Handle})
	}
	return work, handles, nil
}

// upload uploads every pending item once and waits for all of them. The
// first failure cancels the uploads that have not finished.
func (r *Resolver) upload(ctx context.Context, work []pending) (UploadRecord, error) {
	record := make(UploadRecord, len(work))
	if len(work) == 0 {
		return record, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, p := range work {
		g.Go(func() error {
			url, err := r.uploadOne(gctx, p)
			if err != nil {
				return &UploadError{Hash: p.hash, Err: err}
			}
			mu.Lock()
			record[p.hash] = url
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *Resolver) uploadOne(ctx context.Context, p pending) (_ string, err error) {
	ctx, span := r.tracer.Start(ctx, "publish.Upload",
		trace.WithAttributes(attribute.String("content.hash", string(p.hash))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	data, contentType, err := r.store.Load(p.handle)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingContent, err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	url, err := r.uploader.Upload(ctx, assets.Object{Hash: string(p.hash), ContentType: contentType, Data: data})
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("uploader returned an empty URL")
	}
	r.log.Debug("uploaded", "hash", p.hash, "url", url)
	return url, nil
}

// Resolve resolves doc against store using uploader, committing
// unconditionally. It returns the resolved document and the hashes that
// were uploaded.
func Resolve(ctx context.Context, store Source, doc document.Document, uploader assets.Uploader) (document.Document, UploadRecord, error) {
	res, err := NewResolver(store, uploader).Resolve(ctx, Request{Body: doc})
	if err != nil {
		return document.Document{}, nil, err
	}
	return res.Body, res.Record, nil
}
