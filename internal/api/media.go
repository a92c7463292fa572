package api

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Media subdirectories, relative to the media root.
const (
	groupImagesDir   = "groups/images"
	categoryIconsDir = "categories/icons"
)

var imageExtensions = map[string]string{
	"png":  ".png",
	"jpeg": ".jpg",
	"gif":  ".gif",
}

// mediaStore keeps uploaded images on local disk.
type mediaStore struct {
	root     string
	urlPath  string // e.g. "/media/"
	maxBytes int64
}

// upload is an image file taken from a multipart form.
type upload struct {
	header *multipart.FileHeader
}

// errInvalidImage means the upload is not a decodable PNG, JPEG or GIF.
var errInvalidImage = errors.New("invalid image")

// save validates the image and writes it under dir. It returns the path
// relative to the media root, using forward slashes.
func (m *mediaStore) save(dir string, up *upload) (string, error) {
	if up.header.Size > m.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", errInvalidImage, up.header.Size, m.maxBytes)
	}
	f, err := up.header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, m.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return "", fmt.Errorf("%w: too large", errInvalidImage)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", errInvalidImage
	}
	ext, ok := imageExtensions[format]
	if !ok {
		return "", errInvalidImage
	}

	name := uuid.New().String() + ext
	full := filepath.Join(m.root, filepath.FromSlash(dir))
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(full, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return path.Join(dir, name), nil
}

// remove deletes a stored file. Missing files are ignored.
func (m *mediaStore) remove(rel string) error {
	if rel == "" {
		return nil
	}
	err := os.Remove(filepath.Join(m.root, filepath.FromSlash(path.Clean("/"+rel))))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// url returns the absolute URL for a stored file, or nil.
func (m *mediaStore) url(r *http.Request, rel *string) *string {
	if rel == nil || *rel == "" {
		return nil
	}
	u := requestScheme(r) + "://" + r.Host + m.urlPath + *rel
	return &u
}

// handleMedia serves stored files. Symlinks and paths escaping the root are
// refused.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, s.media.urlPath)
	rel = path.Clean("/" + rel)
	if rel == "/" {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	filePath := filepath.Join(s.media.root, filepath.FromSlash(rel))

	fi, err := os.Lstat(filePath)
	if err != nil || fi.IsDir() {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	mimeType := mime.TypeByExtension(filepath.Ext(filePath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	http.ServeFile(w, r, filePath)
}
