package staging

import (
	"log/slog"
	"os"
)

// Options configures a Store.
type Options struct {
	FileMode     os.FileMode  // Permission bits for staged files
	DirMode      os.FileMode  // Permission bits for the session directory
	Algorithm    Algorithm    // Content hash algorithm
	MaxDimension int          // Downscale images larger than this; 0 disables
	OnRelease    func(Entry)  // Called once per entry when its resource is freed
	Logger       *slog.Logger // Defaults to slog.Default()
}

// OptionFunc is a functional option for configuring a Store.
type OptionFunc func(opts *Options)

// WithFileMode sets the permission mode of staged files. Default is 0600:
// staged drafts are private to the editing user.
func WithFileMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.FileMode = mode
	}
}

// WithDirMode sets the permission mode of the session directory.
// Default is 0700.
func WithDirMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.DirMode = mode
	}
}

// WithAlgorithm selects the content hash algorithm. Default is SHA256.
func WithAlgorithm(algo Algorithm) OptionFunc {
	return func(opts *Options) {
		opts.Algorithm = algo
	}
}

// WithMaxDimension enables downscaling: images whose width or height
// exceeds px are shrunk before they are written. The content hash is always
// computed over the bytes the caller supplied, so re-inserting the same
// original resolves to the same handle.
func WithMaxDimension(px int) OptionFunc {
	return func(opts *Options) {
		opts.MaxDimension = px
	}
}

// WithReleaseHook registers fn to run after an entry's temporary resource
// has been freed. It runs outside the store lock.
func WithReleaseHook(fn func(Entry)) OptionFunc {
	return func(opts *Options) {
		opts.OnRelease = fn
	}
}

// WithLogger sets the logger used for staging events.
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

var defaultOpts = Options{
	FileMode:  0o600,
	DirMode:   0o700,
	Algorithm: SHA256,
}
