package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func testObject(payload string) Object {
	data := append(append([]byte(nil), pngHeader...), payload...)
	sum := sha256.Sum256(data)
	return Object{Hash: "sha256:" + hex.EncodeToString(sum[:]), ContentType: "image/png", Data: data}
}

func newTestFileStore(t *testing.T, opts ...FileOption) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), "https://cdn.example.com/assets", opts...)
	require.NoError(t, err)
	return fs
}

// putRaw stores content under an arbitrary key.
func putRaw(t *testing.T, fs *FileStore, key, content string) {
	t.Helper()
	committed, err := fs.put(key, "", "", strings.NewReader(content))
	require.NoError(t, err)
	require.True(t, committed, key)
}

func readAll(t *testing.T, fs *FileStore, key string) []byte {
	t.Helper()
	rc, err := fs.Get(t.Context(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestFileStoreUpload(t *testing.T) {
	fs := newTestFileStore(t)
	obj := testObject("one")

	url, err := fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	key, _ := obj.Key()
	assert.Equal(t, "https://cdn.example.com/assets/"+key, url)
	assert.Equal(t, obj.Data, readAll(t, fs, key))

	meta, err := fs.Stat(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, obj.Hash, meta.Hash)
	assert.Equal(t, strings.TrimPrefix(obj.Hash, "sha256:"), meta.Sha256)
	assert.Equal(t, "image/png", meta.ContentType)

	entries, err := os.ReadDir(filepath.Join(fs.root, tempDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files survive a commit")
}

func TestFileStoreUploadIsIdempotent(t *testing.T) {
	fs := newTestFileStore(t)
	obj := testObject("same")

	url1, err := fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	key, _ := obj.Key()
	meta1, err := fs.Stat(t.Context(), key)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	url2, err := fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	meta2, err := fs.Stat(t.Context(), key)
	require.NoError(t, err)

	assert.Equal(t, url1, url2)
	assert.True(t, meta1.ModifiedAt.Equal(meta2.ModifiedAt), "second upload of identical content rewrote the object")
}

func TestFileStoreNeverOverwritesAKey(t *testing.T) {
	fs := newTestFileStore(t)
	original := testObject("full size")
	key, _ := original.Key()
	url, err := fs.Upload(t.Context(), original)
	require.NoError(t, err)

	// Same content hash, other bytes: what a change of the downscale
	// setting produces for an image published before.
	rescaled := original
	rescaled.Data = append(append([]byte(nil), pngHeader...), "smaller"...)
	again, err := fs.Upload(t.Context(), rescaled)
	require.NoError(t, err)

	assert.Equal(t, url, again)
	assert.Equal(t, original.Data, readAll(t, fs, key), "the published bytes are unchanged")
	meta, err := fs.Stat(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(original.Data)), meta.Size)
}

func TestFileStoreConcurrentCommitKeepsFirst(t *testing.T) {
	fs := newTestFileStore(t)
	putRaw(t, fs, "race.png", "first")

	committed, err := fs.put("race.png", "", "", strings.NewReader("second"))
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, []byte("first"), readAll(t, fs, "race.png"))
}

func TestFileStoreRestoresMissingMeta(t *testing.T) {
	fs := newTestFileStore(t)
	obj := testObject("orphan")
	_, err := fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	key, _ := obj.Key()
	require.NoError(t, os.Remove(filepath.Join(fs.pathFor(key), metaFileName)))

	_, err = fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	meta, err := fs.Stat(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, obj.Hash, meta.Hash)
	assert.Equal(t, strings.TrimPrefix(obj.Hash, "sha256:"), meta.Sha256)
	assert.Equal(t, "image/png", meta.ContentType)
}

func TestFileStoreUploadRejectsBadObjects(t *testing.T) {
	fs := newTestFileStore(t)

	_, err := fs.Upload(t.Context(), Object{Hash: "sha256:abcd"})
	assert.ErrorIs(t, err, ErrEmptyObject)
	_, err = fs.Upload(t.Context(), Object{Hash: "nohash", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidHash)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = fs.Upload(ctx, testObject("late"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetMissing(t *testing.T) {
	fs := newTestFileStore(t)

	_, err := fs.Get(t.Context(), "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Stat(t.Context(), "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err := fs.Exists(t.Context(), "missing.png")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = fs.Get(t.Context(), "../escape")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeleteIdempotent(t *testing.T) {
	fs := newTestFileStore(t)
	key := "delete/idempotent.png"
	putRaw(t, fs, key, "test content")

	for range 3 {
		require.NoError(t, fs.Delete(t.Context(), key))
	}
	ok, err := fs.Exists(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, ok, "object still exists after delete")
}

func TestDeleteCleansUpEmptyDirs(t *testing.T) {
	fs := newTestFileStore(t)
	obj := testObject("cleanup")
	_, err := fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	key, _ := obj.Key()

	storagePath := fs.pathFor(key)
	parent1 := filepath.Dir(storagePath)
	parent2 := filepath.Dir(parent1)
	require.DirExists(t, parent1)

	require.NoError(t, fs.Delete(t.Context(), key))

	for _, dir := range []string{storagePath, parent1, parent2} {
		assert.NoDirExists(t, dir)
	}
	assert.DirExists(t, filepath.Join(fs.root, objectsDirName), "objects directory must survive cleanup")

	// A deleted key can be published again.
	_, err = fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	assert.Equal(t, obj.Data, readAll(t, fs, key))
}

func TestList(t *testing.T) {
	fs := newTestFileStore(t)

	keys := []string{
		"covers/2026/a.png",
		"covers/2026/b.png",
		"covers/2025/c.png",
		"inline/d.png",
	}
	for _, key := range keys {
		putRaw(t, fs, key, key)
	}

	tests := []struct {
		name     string
		prefix   string
		expected []string
	}{
		{"list all", "", keys},
		{"list covers", "covers/", keys[:3]},
		{"list 2026", "covers/2026/", keys[:2]},
		{"no match", "nonexistent/", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := fs.List(t.Context(), tt.prefix)
			defer it.Close()

			var found []string
			for it.Next() {
				found = append(found, it.Key())
			}
			require.NoError(t, it.Err())
			assert.ElementsMatch(t, tt.expected, found)
		})
	}
}

func TestListContextCancellation(t *testing.T) {
	fs := newTestFileStore(t)
	for i := range 20 {
		_, err := fs.Upload(t.Context(), testObject(strings.Repeat("x", i+1)))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	it := fs.List(ctx, "")
	defer it.Close()

	require.True(t, it.Next(), "expected at least one object")
	cancel()

	for it.Next() {
	}
	if err := it.Err(); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestPendingObjectDiscard(t *testing.T) {
	fs := newTestFileStore(t)

	p, err := fs.newPending()
	require.NoError(t, err)
	_, err = p.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", p.digest())

	p.discard()
	p.discard()

	assert.NoFileExists(t, p.tmpPath)
	_, err = p.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrObjectClosed)
	_, err = p.commitAs("k.png", "", "")
	assert.ErrorIs(t, err, ErrObjectClosed)
}

func TestPendingObjectInvalidKeyLeavesNoFiles(t *testing.T) {
	fs := newTestFileStore(t)

	p, err := fs.newPending()
	require.NoError(t, err)
	defer p.discard()
	_, _ = p.Write(pngHeader)

	_, err = p.commitAs("../x", "", "")
	require.ErrorIs(t, err, ErrInvalidKey)
	assert.Nil(t, p.meta, "meta must stay nil after a failed commit")
}

func TestPendingObjectDetectsContentType(t *testing.T) {
	fs := newTestFileStore(t)
	putRaw(t, fs, "sniffed", string(pngHeader))

	meta, err := fs.Stat(t.Context(), "sniffed")
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)
}

func TestServeHTTP(t *testing.T) {
	fs := newTestFileStore(t)
	obj := testObject("served")
	_, err := fs.Upload(t.Context(), obj)
	require.NoError(t, err)
	key, _ := obj.Key()

	srv := httptest.NewServer(fs)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/" + key)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "immutable")
	assert.Equal(t, obj.Data, body)

	missing, err := http.Get(srv.URL + "/missing.png")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	post, err := http.Post(srv.URL+"/"+key, "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestPruneTemp(t *testing.T) {
	fs := newTestFileStore(t)
	stale := filepath.Join(fs.root, tempDirName, "obj-stale")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	fresh := filepath.Join(fs.root, tempDirName, "obj-fresh")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))

	n, err := fs.PruneTemp(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh, "fresh temp file must survive")
}
