// Package local stores objects as files under <root>/<bucket>/<key>.
// Used for development and tests; paths are recorded as file:// URLs.
package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/storage"
)

// Store is a filesystem-backed storage.Store
type Store struct {
	root  string
	names storage.Names
}

// New creates the bucket directories under root
func New(root string, names storage.Names) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve storage root %s", root)
	}
	s := &Store{root: abs, names: names}
	for _, b := range []storage.Bucket{storage.Original, storage.Processed, storage.Heatmaps} {
		dir, err := s.dir(b)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "create bucket directory %s", dir)
		}
	}
	return s, nil
}

func (s *Store) dir(b storage.Bucket) (string, error) {
	name, err := s.names.Resolve(b)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

func (s *Store) file(b storage.Bucket, key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", errors.NewInvalidRequestError("invalid object key %q", key)
	}
	dir, err := s.dir(b)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key), nil
}

// Path returns file://<root>/<bucket>/<key>
func (s *Store) Path(b storage.Bucket, key string) string {
	name, _ := s.names.Resolve(b)
	return "file://" + filepath.ToSlash(filepath.Join(s.root, name, key))
}

func (s *Store) Exists(ctx context.Context, b storage.Bucket, key string) (bool, error) {
	p, err := s.file(b, key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "stat %s", p)
	}
	return !info.IsDir(), nil
}

func (s *Store) Download(ctx context.Context, b storage.Bucket, key, dst string) error {
	rc, err := s.Open(ctx, b, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(dst, rc)
}

func (s *Store) Upload(ctx context.Context, b storage.Bucket, key, src, contentType string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", errors.Wrapf(err, "open upload source %s", src)
	}
	defer in.Close()
	return s.put(b, key, in)
}

func (s *Store) UploadBytes(ctx context.Context, b storage.Bucket, key string, data []byte, contentType string) (string, error) {
	return s.put(b, key, bytes.NewReader(data))
}

func (s *Store) put(b storage.Bucket, key string, r io.Reader) (string, error) {
	p, err := s.file(b, key)
	if err != nil {
		return "", err
	}
	if err := writeFile(p, r); err != nil {
		return "", err
	}
	return s.Path(b, key), nil
}

func (s *Store) Open(ctx context.Context, b storage.Bucket, key string) (io.ReadCloser, error) {
	p, err := s.file(b, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, storage.NotFound(b, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p)
	}
	return f, nil
}

func (s *Store) List(ctx context.Context, b storage.Bucket) ([]storage.ObjectInfo, error) {
	dir, err := s.dir(b)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	var out []storage.ObjectInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".partial" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, storage.ObjectInfo{Key: e.Name(), Size: info.Size(), Updated: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// writeFile writes through a .partial file and renames, so readers never see
// a half-written object
func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "create directory for %s", dst)
	}
	tmp := dst + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", dst)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close %s", dst)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s", dst)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
