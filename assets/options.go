package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ShardFunc maps a storage key to the directory, relative to the objects
// root, that holds the object's data file and sidecar. It must be
// deterministic and must never return a path that escapes the root.
type ShardFunc func(key string) string

// FileOptions configures a FileStore.
type FileOptions struct {
	FileMode  os.FileMode // Permission bits for data and sidecar files
	DirMode   os.FileMode // Permission bits for directories
	ShardFunc ShardFunc   // Storage path for a key
	Logger    *slog.Logger
}

// FileOption is a functional option for configuring a FileStore.
type FileOption func(opts *FileOptions)

// WithFileMode sets the permission mode for data files. Default is 0644.
func WithFileMode(mode os.FileMode) FileOption {
	return func(opts *FileOptions) {
		opts.FileMode = mode
	}
}

// WithDirMode sets the permission mode for directories. Default is 0755.
func WithDirMode(mode os.FileMode) FileOption {
	return func(opts *FileOptions) {
		opts.DirMode = mode
	}
}

// WithShardFunc replaces the default two-level sharding.
//
// Flat layout, one directory per key:
//
//	WithShardFunc(func(key string) string {
//	    return key
//	})
func WithShardFunc(fn ShardFunc) FileOption {
	return func(opts *FileOptions) {
		opts.ShardFunc = fn
	}
}

// WithFileLogger sets the logger used by the store.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(opts *FileOptions) {
		opts.Logger = l
	}
}

// DefaultShardFunc spreads keys over 256*256 directories using the first
// two bytes of the SHA-256 of the key: "a3/f2/a3f29d4e8c...".
func DefaultShardFunc(key string) string {
	hash := sha256.Sum256([]byte(key))
	hexHash := hex.EncodeToString(hash[:])
	return filepath.Join(hexHash[:2], hexHash[2:4], hexHash)
}

// DigestShardFunc shards content-addressed keys by their own leading hex
// characters, so the on-disk layout mirrors the digest:
// "9f86d0...png" becomes "9f/86/9f86d0...png". Keys too short to shard
// fall back to DefaultShardFunc.
func DigestShardFunc(key string) string {
	base := strings.TrimSuffix(key, filepath.Ext(key))
	if len(base) < 4 || strings.Contains(key, "/") {
		return DefaultShardFunc(key)
	}
	return filepath.Join(base[:2], base[2:4], key)
}

var defaultFileOpts = FileOptions{
	FileMode:  0o644,
	DirMode:   0o755,
	ShardFunc: DigestShardFunc,
}
