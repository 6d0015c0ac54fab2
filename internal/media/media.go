// Package media is the on-disk object store for uploaded images and documents.
// Objects are addressed by a ref of the form "<uuid><ext>".
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const DefaultMaxBytes = 10 << 20

var (
	ErrNotFound        = errors.New("media: object not found")
	ErrTooLarge        = errors.New("media: object too large")
	ErrUnsupportedType = errors.New("media: unsupported file type")
	ErrLockTimeout     = errors.New("media: could not acquire store lock")
)

var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
}

type Object struct {
	Ref         string    `json:"ref"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modTime"`
}

type Store struct {
	dir      string
	maxBytes int64

	mu   sync.Mutex // serializes lock use within this process
	lock *flock.Flock
}

// Open prepares dir as a media store. maxBytes <= 0 selects DefaultMaxBytes.
func Open(dir string, maxBytes int64) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("media: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		dir:      dir,
		maxBytes: maxBytes,
		lock:     flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// ParseRef validates ref and returns its extension.
func ParseRef(ref string) (string, error) {
	ext := strings.ToLower(filepath.Ext(ref))
	if _, ok := allowedExt[ext]; !ok {
		return "", ErrUnsupportedType
	}
	if _, err := uuid.Parse(strings.TrimSuffix(ref, filepath.Ext(ref))); err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	return ext, nil
}

func contentType(ext string) string {
	if ct, ok := allowedExt[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	if !locked {
		return ErrLockTimeout
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// Put stores the content of r under a fresh ref. The extension of filename decides
// the content type.
func (s *Store) Put(ctx context.Context, filename string, r io.Reader) (Object, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExt[ext]; !ok {
		return Object{}, ErrUnsupportedType
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Object{}, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, err
	}
	if n > s.maxBytes {
		return Object{}, ErrTooLarge
	}

	obj := Object{Ref: uuid.NewString() + ext, ContentType: contentType(ext), Size: n}
	err = s.withLock(ctx, func() error {
		return os.Rename(tmpName, filepath.Join(s.dir, obj.Ref))
	})
	if err != nil {
		return Object{}, err
	}
	if st, err := os.Stat(filepath.Join(s.dir, obj.Ref)); err == nil {
		obj.ModTime = st.ModTime().UTC()
	}
	return obj, nil
}

// Open returns the object's content. The caller closes it.
func (s *Store) Open(ref string) (*os.File, Object, error) {
	ext, err := ParseRef(ref)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Object{}, ErrNotFound
	}
	if err != nil {
		return nil, Object{}, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Object{}, err
	}
	return f, Object{Ref: ref, ContentType: contentType(ext), Size: st.Size(), ModTime: st.ModTime().UTC()}, nil
}

func (s *Store) Delete(ctx context.Context, ref string) error {
	if _, err := ParseRef(ref); err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		err := os.Remove(filepath.Join(s.dir, ref))
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	})
}

// List returns stored objects, newest first.
func (s *Store) List() ([]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := []Object{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext, err := ParseRef(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Object{Ref: e.Name(), ContentType: contentType(ext), Size: info.Size(), ModTime: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Ref < out[j].Ref
	})
	return out, nil
}
