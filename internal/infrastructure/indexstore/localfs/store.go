package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/gofrs/flock"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

const (
	lockFile       = ".build.lock"
	lockRetryDelay = 200 * time.Millisecond
)

var validID = regexp.MustCompile(`^[a-z0-9_]+$`)

// Store keeps one <index id>.json file per record under a root directory.
type Store struct {
	basePath string
}

func New(basePath string) (*Store, error) {
	if basePath == "" {
		basePath = "./storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) Load(_ context.Context, indexID string) ([]byte, error) {
	path, err := s.path(indexID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "load index record", fmt.Errorf("%s", indexID))
	}
	if err != nil {
		return nil, fmt.Errorf("read index record %s: %w", indexID, err)
	}
	return raw, nil
}

// Persist writes every record to a temporary file first and renames them
// into place only after all writes succeeded.
func (s *Store) Persist(ctx context.Context, records map[string][]byte) error {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	staged := make(map[string]string, len(ids))
	defer func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.path(id); err != nil {
			return err
		}
		tmp, err := s.writeTemp(id, records[id])
		if err != nil {
			return err
		}
		staged[id] = tmp
	}

	for _, id := range ids {
		target, _ := s.path(id)
		if err := os.Rename(staged[id], target); err != nil {
			return fmt.Errorf("commit index record %s: %w", id, err)
		}
		delete(staged, id)
	}
	return nil
}

// Lock takes an exclusive file lock shared by every process using basePath.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	l := flock.New(filepath.Join(s.basePath, lockFile))
	locked, err := l.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire build lock: %s is held", l.Path())
	}
	return func() { _ = l.Unlock() }, nil
}

func (s *Store) writeTemp(id string, payload []byte) (string, error) {
	f, err := os.CreateTemp(s.basePath, "."+id+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create index record %s: %w", id, err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write index record %s: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("sync index record %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close index record %s: %w", id, err)
	}
	return f.Name(), nil
}

func (s *Store) path(indexID string) (string, error) {
	if !validID.MatchString(indexID) {
		return "", domain.WrapError(domain.ErrInvalidInput, "index record path", fmt.Errorf("invalid index id %q", indexID))
	}
	return filepath.Join(s.basePath, indexID+".json"), nil
}
