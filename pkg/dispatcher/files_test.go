package dispatcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cin-tie/remote-shell/pkg/protocol"
)

func TestUpload(t *testing.T) {
	d := newDispatcher(t, Config{})
	p := connectedPeer(t, d)
	ctx := context.Background()
	dir := d.Config().InitialDirectory

	t.Run("CreatesFileInSessionDir", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Upload{FileName: "new.txt", Data: []byte("hello")})
		requireOK(t, res)

		ur := res.(*protocol.UploadResult)
		assert.Equal(t, filepath.Join(dir, "new.txt"), ur.AbsolutePath)
		assert.Equal(t, int64(5), ur.Size)
		assert.False(t, ur.PreExisted)

		got, err := os.ReadFile(ur.AbsolutePath)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(got))
	})

	t.Run("ExistingWithoutOverwrite", func(t *testing.T) {
		target := t.TempDir()
		path := filepath.Join(target, "a.txt")
		require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

		res := d.Dispatch(ctx, p, &protocol.Upload{FileName: "a.txt", TargetDir: target, Data: []byte("replacement"), Overwrite: false})
		require.True(t, res.Failed())
		assert.Equal(t, "File already exists and overwrite is disabled: "+path, res.Err())
		assert.Empty(t, res.(*protocol.UploadResult).AbsolutePath)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "original", string(got))

		entries, err := os.ReadDir(target)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temporary file left behind")
	})

	t.Run("ExistingWithOverwrite", func(t *testing.T) {
		target := t.TempDir()
		path := filepath.Join(target, "b.bin")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

		data := bytes.Repeat([]byte{0xAB}, 10000)
		res := d.Dispatch(ctx, p, &protocol.Upload{FileName: "b.bin", TargetDir: target, Data: data, Overwrite: true})
		requireOK(t, res)
		assert.True(t, res.(*protocol.UploadResult).PreExisted)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("InvalidTargetDirectory", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Upload{FileName: "x", TargetDir: "/no/such/dir"})
		assert.Equal(t, "Invalid target directory: /no/such/dir", res.Err())

		file := filepath.Join(dir, "plain")
		require.NoError(t, os.WriteFile(file, nil, 0644))
		res = d.Dispatch(ctx, p, &protocol.Upload{FileName: "x", TargetDir: file})
		assert.Equal(t, "Invalid target directory: "+file, res.Err())
	})

	t.Run("InvalidFileName", func(t *testing.T) {
		for _, name := range []string{"", ".", "..", "../escape.txt", "sub/file.txt"} {
			res := d.Dispatch(ctx, p, &protocol.Upload{FileName: name, Data: []byte("x")})
			assert.Equal(t, "Invalid file name: "+name, res.Err())
		}
		assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.txt"))
	})

	t.Run("TooLarge", func(t *testing.T) {
		small := newDispatcher(t, Config{MaxFileSize: 4})
		sp := connectedPeer(t, small)
		res := small.Dispatch(ctx, sp, &protocol.Upload{FileName: "big", Data: []byte("12345")})
		assert.Contains(t, res.Err(), "File upload failed: ")
	})
}

func TestDownload(t *testing.T) {
	d := newDispatcher(t, Config{})
	p := connectedPeer(t, d)
	ctx := context.Background()

	content := []byte("0123456789")
	path := filepath.Join(d.Config().InitialDirectory, "digits.txt")
	require.NoError(t, os.WriteFile(path, content, 0644))

	tests := []struct {
		name    string
		offset  int64
		length  int64
		want    string
		partial bool
	}{
		{"WholeFile", 0, 0, "0123456789", false},
		{"NegativeLengthMeansToEnd", 0, -1, "0123456789", false},
		{"ExactLength", 0, 10, "0123456789", false},
		{"LengthBeyondEnd", 0, 100, "0123456789", false},
		{"Prefix", 0, 4, "0123", true},
		{"OffsetToEnd", 3, 0, "3456789", true},
		{"Window", 2, 3, "234", true},
		{"OffsetAtEnd", 10, 0, "", true},
		{"OffsetPastEnd", 50, 5, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(ctx, p, &protocol.Download{Path: "digits.txt", Offset: tt.offset, Length: tt.length})
			requireOK(t, res)

			dr := res.(*protocol.DownloadResult)
			assert.Equal(t, "digits.txt", dr.FileName)
			assert.Equal(t, int64(10), dr.TotalSize)
			assert.Equal(t, tt.want, string(dr.Data))
			assert.Equal(t, int64(len(tt.want)), dr.ReturnedBytes())
			assert.Equal(t, tt.partial, dr.Partial)
		})
	}

	t.Run("AbsolutePath", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Download{Path: path})
		requireOK(t, res)
		assert.Equal(t, content, res.(*protocol.DownloadResult).Data)
	})

	t.Run("NotFound", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Download{Path: "missing.txt"})
		assert.Equal(t, "File not found: missing.txt", res.Err())
	})

	t.Run("DirectoryIsNotAFile", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Download{Path: ""})
		assert.Equal(t, "File not found: ", res.Err())
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Download{Path: "digits.txt", Offset: -1})
		assert.Contains(t, res.Err(), "File download failed: ")
	})

	t.Run("RangeOverLimit", func(t *testing.T) {
		small := newDispatcher(t, Config{InitialDirectory: d.Config().InitialDirectory, MaxFileSize: 4})
		sp := connectedPeer(t, small)
		res := small.Dispatch(ctx, sp, &protocol.Download{Path: "digits.txt"})
		assert.Contains(t, res.Err(), "exceeds limit")

		res = small.Dispatch(ctx, sp, &protocol.Download{Path: "digits.txt", Offset: 6})
		requireOK(t, res)
	})
}

func TestChdirAndGetdir(t *testing.T) {
	d := newDispatcher(t, Config{})
	p := connectedPeer(t, d)
	ctx := context.Background()

	root, err := filepath.EvalSymlinks(d.Config().InitialDirectory)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0755))

	res := d.Dispatch(ctx, p, &protocol.Chdir{NewDir: root})
	requireOK(t, res)

	t.Run("Relative", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Chdir{NewDir: "a/b"})
		requireOK(t, res)
		cr := res.(*protocol.ChdirResult)
		assert.Equal(t, root, cr.OldDir)
		assert.Equal(t, filepath.Join(root, "a", "b"), cr.NewDir)

		gr := d.Dispatch(ctx, p, &protocol.Getdir{}).(*protocol.GetdirResult)
		assert.Equal(t, cr.NewDir, gr.CurrentDir)
	})

	t.Run("ParentIsCanonical", func(t *testing.T) {
		res := d.Dispatch(ctx, p, &protocol.Chdir{NewDir: "../.."})
		requireOK(t, res)
		assert.Equal(t, root, res.(*protocol.ChdirResult).NewDir)
	})

	t.Run("SymlinkResolved", func(t *testing.T) {
		link := filepath.Join(root, "link")
		if err := os.Symlink(filepath.Join(root, "a"), link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		res := d.Dispatch(ctx, p, &protocol.Chdir{NewDir: link})
		requireOK(t, res)
		assert.Equal(t, filepath.Join(root, "a"), res.(*protocol.ChdirResult).NewDir)
	})

	t.Run("Missing", func(t *testing.T) {
		before := p.Session().CurrentDirectory()
		res := d.Dispatch(ctx, p, &protocol.Chdir{NewDir: "nope"})
		assert.Equal(t, "Directory does not exist: nope", res.Err())
		assert.Equal(t, before, p.Session().CurrentDirectory())
	})

	t.Run("FileIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(root, "f")
		require.NoError(t, os.WriteFile(file, nil, 0644))
		res := d.Dispatch(ctx, p, &protocol.Chdir{NewDir: file})
		assert.Equal(t, "Directory does not exist: "+file, res.Err())
	})
}

func TestRelativeUploadFollowsChdir(t *testing.T) {
	d := newDispatcher(t, Config{})
	p := connectedPeer(t, d)
	ctx := context.Background()

	sub := filepath.Join(d.Config().InitialDirectory, "work")
	require.NoError(t, os.Mkdir(sub, 0755))
	requireOK(t, d.Dispatch(ctx, p, &protocol.Chdir{NewDir: "work"}))

	res := d.Dispatch(ctx, p, &protocol.Upload{FileName: "notes.md", Data: []byte("# notes")})
	requireOK(t, res)

	canonical, err := filepath.EvalSymlinks(sub)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(canonical, "notes.md"))
}
