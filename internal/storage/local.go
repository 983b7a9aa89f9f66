package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/codeak/portal/pkg/logger"
	"github.com/spf13/afero"
)

// LocalStore keeps files in an afero filesystem. Production roots an OS
// filesystem at the uploads directory, tests use an in-memory one.
type LocalStore struct {
	fs afero.Fs
}

func NewLocalStore(fsys afero.Fs) *LocalStore {
	return &LocalStore{fs: fsys}
}

func NewOSLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return NewLocalStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func (s *LocalStore) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return err
	}
	f, err := s.fs.Create(key)
	if err != nil {
		logger.Error("local_store_save_failed", err, map[string]interface{}{"key": key})
		return err
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		logger.Error("local_store_save_failed", err, map[string]interface{}{"key": key})
		return err
	}
	logger.Info("local_store_save_success", map[string]interface{}{
		"key":          key,
		"size":         written,
		"content_type": contentType,
	})
	return nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(key); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		logger.Error("local_store_delete_failed", err, map[string]interface{}{"key": key})
		return err
	}
	logger.Info("local_store_delete_success", map[string]interface{}{"key": key})
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, key)
}
