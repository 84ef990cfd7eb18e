package message

import (
	"errors"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideRoot is returned for paths that escape the root directory.
	ErrOutsideRoot = errors.New("path escapes root directory")
	// ErrNotFound is returned when nothing exists at the resolved path.
	ErrNotFound = errors.New("file not found")
)

// ResolveStatic maps requestPath onto a file below root. Directory requests
// resolve to the index file inside them. The returned path is absolute.
func ResolveStatic(root, requestPath, index string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	for _, seg := range strings.Split(requestPath, "/") {
		if seg == ".." {
			return "", ErrOutsideRoot
		}
	}
	if strings.ContainsRune(requestPath, 0) || strings.Contains(requestPath, "\\") {
		return "", ErrOutsideRoot
	}

	clean := path.Clean("/" + requestPath)
	target := filepath.Join(absRoot, filepath.FromSlash(clean))
	if !within(absRoot, target) {
		return "", ErrOutsideRoot
	}

	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if info.IsDir() {
		if index == "" {
			return "", ErrNotFound
		}
		target = filepath.Join(target, index)
		info, err = os.Stat(target)
		if err != nil || info.IsDir() {
			return "", ErrNotFound
		}
	}

	// Symlinks must not lead out of the root either.
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", ErrNotFound
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", err
	}
	if !within(realRoot, resolved) {
		return "", ErrOutsideRoot
	}
	return target, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// contentTypes covers the files a forestNET site usually serves, so results
// do not depend on the host's mime database.
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".json":  "application/json",
	".xml":   "text/xml; charset=utf-8",
	".wsdl":  "text/xml; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".csv":   "text/csv; charset=utf-8",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// ContentType returns the media type for a file name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsHTML reports whether name is rendered as a page in dynamic mode.
func IsHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}
