package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/internal/telemetry"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// resolvePath interprets p relative to cwd. An empty p means cwd.
func resolvePath(cwd, p string) string {
	switch {
	case p == "":
		return cwd
	case filepath.IsAbs(p):
		return filepath.Clean(p)
	default:
		return filepath.Join(cwd, p)
	}
}

// validFileName reports whether name is a plain base name.
func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name && filepath.Clean(name) == name && !containsSeparator(name)
}

func containsSeparator(name string) bool {
	for i := 0; i < len(name); i++ {
		if os.IsPathSeparator(name[i]) || name[i] == '/' {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handleUpload(ctx context.Context, s session.Session, msg protocol.Message) protocol.Result {
	req := msg.(*protocol.Upload)

	if !validFileName(req.FileName) {
		return &protocol.UploadResult{Status: protocol.Failure(
			fmt.Sprintf("Invalid file name: %s", req.FileName))}
	}

	dir := resolvePath(s.CurrentDirectory(), req.TargetDir)
	shown := req.TargetDir
	if shown == "" {
		shown = dir
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return &protocol.UploadResult{Status: protocol.Failure(
			fmt.Sprintf("Invalid target directory: %s", shown))}
	}

	if int64(len(req.Data)) > d.cfg.MaxFileSize {
		return &protocol.UploadResult{Status: protocol.Failure(
			fmt.Sprintf("File upload failed: %d bytes exceeds limit of %d bytes", len(req.Data), d.cfg.MaxFileSize))}
	}

	target := filepath.Join(dir, req.FileName)
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	telemetry.SetAttributes(ctx, telemetry.Path(abs), telemetry.Size(int64(len(req.Data))))

	preExisted, err := writeFileAtomic(abs, req.Data, req.Overwrite)
	if errors.Is(err, fs.ErrExist) {
		return &protocol.UploadResult{Status: protocol.Failure(
			fmt.Sprintf("File already exists and overwrite is disabled: %s", abs))}
	}
	if err != nil {
		logger.WarnCtx(ctx, "File upload failed", logger.KeyPath, abs, logger.Err(err))
		return &protocol.UploadResult{Status: protocol.Failure(
			fmt.Sprintf("File upload failed: %v", err))}
	}

	logger.InfoCtx(ctx, "File uploaded",
		logger.KeyPath, abs,
		logger.KeySize, len(req.Data),
		"pre_existed", preExisted)

	return &protocol.UploadResult{
		AbsolutePath: abs,
		Size:         int64(len(req.Data)),
		PreExisted:   preExisted,
	}
}

// writeFileAtomic writes data to a temporary file next to path and moves it
// into place, so readers never observe a partially written upload. Without
// overwrite the final step is a hard link, which fails with fs.ErrExist if
// path appeared in the meantime.
func writeFileAtomic(path string, data []byte, overwrite bool) (preExisted bool, err error) {
	if _, statErr := os.Lstat(path); statErr == nil {
		if !overwrite {
			return true, fs.ErrExist
		}
		preExisted = true
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rsh-upload-*")
	if err != nil {
		return preExisted, err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return preExisted, err
	}
	if err := tmp.Close(); err != nil {
		return preExisted, err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return preExisted, err
	}

	if overwrite {
		if err := os.Rename(tmpName, path); err != nil {
			return preExisted, err
		}
		tmpName = ""
		return preExisted, nil
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return true, fs.ErrExist
		}
		return preExisted, err
	}
	return preExisted, nil
}

func (d *Dispatcher) handleDownload(ctx context.Context, s session.Session, msg protocol.Message) protocol.Result {
	req := msg.(*protocol.Download)

	path := resolvePath(s.CurrentDirectory(), req.Path)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return &protocol.DownloadResult{Status: protocol.Failure(
			fmt.Sprintf("File not found: %s", req.Path))}
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return &protocol.DownloadResult{Status: protocol.Failure(
				fmt.Sprintf("Cannot read file: %s", req.Path))}
		}
		return &protocol.DownloadResult{Status: protocol.Failure(
			fmt.Sprintf("File download failed: %v", err))}
	}
	defer func() { _ = f.Close() }()

	size := info.Size()
	offset, length, err := downloadRange(size, req.Offset, req.Length)
	if err != nil {
		return &protocol.DownloadResult{Status: protocol.Failure(
			fmt.Sprintf("File download failed: %v", err))}
	}
	if length > d.cfg.MaxFileSize {
		return &protocol.DownloadResult{Status: protocol.Failure(
			fmt.Sprintf("File download failed: range of %d bytes exceeds limit of %d bytes", length, d.cfg.MaxFileSize))}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(f, offset, length), data); err != nil {
		logger.WarnCtx(ctx, "File download failed", logger.KeyPath, path, logger.Err(err))
		return &protocol.DownloadResult{Status: protocol.Failure(
			fmt.Sprintf("File download failed: %v", err))}
	}

	partial := offset > 0 || length < size
	telemetry.SetAttributes(ctx, telemetry.Path(path), telemetry.Size(size),
		telemetry.Offset(offset), telemetry.Partial(partial))
	logger.InfoCtx(ctx, "File downloaded",
		logger.KeyPath, path,
		logger.KeySize, size,
		logger.KeyOffset, offset,
		"sent", length,
		"partial", partial)

	return &protocol.DownloadResult{
		FileName:  filepath.Base(path),
		TotalSize: size,
		Data:      data,
		Partial:   partial,
	}
}

// downloadRange clamps [offset, offset+length) to a file of size bytes.
// length <= 0 means to the end of the file.
func downloadRange(size, offset, length int64) (int64, int64, error) {
	if offset < 0 {
		return 0, 0, fmt.Errorf("negative offset %d", offset)
	}
	if offset > size {
		offset = size
	}
	remaining := size - offset
	if length <= 0 || length > remaining {
		length = remaining
	}
	return offset, length, nil
}

func (d *Dispatcher) handleChdir(ctx context.Context, s session.Session, msg protocol.Message) protocol.Result {
	req := msg.(*protocol.Chdir)

	oldDir := s.CurrentDirectory()
	target := resolvePath(oldDir, req.NewDir)

	canonical, err := filepath.EvalSymlinks(target)
	if err == nil {
		canonical, err = filepath.Abs(canonical)
	}
	if err != nil {
		return &protocol.ChdirResult{Status: protocol.Failure(
			fmt.Sprintf("Directory does not exist: %s", req.NewDir))}
	}
	if info, err := os.Stat(canonical); err != nil || !info.IsDir() {
		return &protocol.ChdirResult{Status: protocol.Failure(
			fmt.Sprintf("Directory does not exist: %s", req.NewDir))}
	}

	s.SetCurrentDirectory(canonical)
	logger.InfoCtx(ctx, "Directory changed", "old_dir", oldDir, logger.KeyDir, canonical)

	return &protocol.ChdirResult{OldDir: oldDir, NewDir: canonical}
}

func (d *Dispatcher) handleGetdir(_ context.Context, s session.Session, _ protocol.Message) protocol.Result {
	return &protocol.GetdirResult{CurrentDir: s.CurrentDirectory()}
}
