package task

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/forestnet/forestnet/internal/message"
	"go.uber.org/zap"
)

// DownloadResult describes a completed download.
type DownloadResult struct {
	Path   string
	Size   int64
	SHA256 string // hex
}

// DownloadError reports a non-200 answer to a download request.
type DownloadError struct {
	Status  int
	Message string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed: %d %s", e.Status, e.Message)
}

// progressWriter counts the bytes passing through and reports them.
type progressWriter struct {
	done, total int64
	report      func(done, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.report != nil {
		p.report(p.done, p.total)
	}
	return len(b), nil
}

// Download streams remotePath into localPath. The data is written to a
// temporary file next to localPath and renamed into place only after the
// full body arrived, so an interrupted download never leaves a partial file
// under the target name. progress, when non-nil, is called after every chunk;
// total is -1 when the server sent no length.
func (c *Client) Download(ctx context.Context, remotePath, localPath string, progress func(done, total int64)) (*DownloadResult, error) {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	var (
		sum     hash.Hash
		written int64
	)
	req := &message.ClientRequest{Method: http.MethodGet, Path: remotePath}
	res, err := c.stream(ctx, req, func(res *message.Response, body io.Reader) error {
		if res.StatusCode != http.StatusOK {
			return &DownloadError{Status: res.StatusCode, Message: res.Status}
		}
		sum = sha256.New()
		pw := &progressWriter{total: res.ContentLength, report: progress}
		n, err := io.Copy(io.MultiWriter(tmp, sum, pw), body)
		written = n
		if err != nil {
			return fmt.Errorf("failed to receive body: %w", err)
		}
		if res.ContentLength >= 0 && n != res.ContentLength {
			return fmt.Errorf("short download: got %d of %d bytes", n, res.ContentLength)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}
	committed = true

	result := &DownloadResult{Path: localPath, Size: written, SHA256: hex.EncodeToString(sum.Sum(nil))}
	c.logger.Info("Download complete",
		zap.String("remote", remotePath),
		zap.String("path", localPath),
		zap.Int64("bytes", result.Size),
		zap.String("sha256", result.SHA256),
		zap.Int("status", res.StatusCode))
	return result, nil
}

// FileDigest returns the size and hex SHA-256 of a local file.
func FileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
