// Package artifacts serves compiled videos written by the local
// concatenation backend.
package artifacts

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/heimdex/reelforge/internal/logging"
)

var ErrInvalidName = errors.New("invalid artifact name")

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{dir: dir, logger: logger}
}

func (s *Store) Dir() string {
	return s.dir
}

// Path resolves an artifact name to its file. Only bare file names with a
// known video extension are accepted.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; !ok {
		return "", fmt.Errorf("%w: unsupported extension in %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Serve writes the artifact with range support. A missing file yields 404.
func (s *Store) Serve(w http.ResponseWriter, r *http.Request, name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return nil
	}

	ctype := contentTypes[strings.ToLower(filepath.Ext(name))]
	if ctype == "" {
		ctype = mime.TypeByExtension(filepath.Ext(name))
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Accept-Ranges", "bytes")

	s.logger.Debug("serving artifact", "name", name, "size", stat.Size(), "range", r.Header.Get("Range"))
	http.ServeContent(w, r, name, stat.ModTime(), file)
	return nil
}
