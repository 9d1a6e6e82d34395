package epoch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps epochs under:
//
//	<dir>/<project-id>/<epoch-id>.json
//
// Writes are atomic and durable (file sync + atomic rename + dir sync).
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("epoch dir is required")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) projectDir(projectID string) (string, error) {
	if err := checkName("project_id", projectID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, projectID), nil
}

func (s *FileStore) epochPath(projectID, id string) (string, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return "", err
	}
	if err := checkName("epoch_id", id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id+".json"), nil
}

// checkName rejects values that are unsafe as a single path element.
func checkName(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return fmt.Errorf("%s %q is not a valid name", field, v)
	}
	return nil
}

func (s *FileStore) Put(ctx context.Context, e Epoch) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid epoch: %w", err)
	}
	path, err := s.epochPath(e.ProjectID, e.ID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	if err := ensureDirDurable(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure project dir: %w", err)
	}
	data, err := Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal epoch: %w", err)
	}
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return fmt.Errorf("write epoch: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, projectID, id string) (Epoch, error) {
	path, err := s.epochPath(projectID, id)
	if err != nil {
		return Epoch{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Epoch{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Epoch{}, err
	}
	e, err := Unmarshal(data)
	if err != nil {
		return Epoch{}, fmt.Errorf("%s: %w", path, err)
	}
	if e.ID != id || e.ProjectID != projectID {
		return Epoch{}, fmt.Errorf("%s: stored epoch %s/%s does not match its path", path, e.ProjectID, e.ID)
	}
	return e, nil
}

func (s *FileStore) List(ctx context.Context, projectID string) ([]Epoch, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Epoch
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := s.Get(ctx, projectID, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sortEpochs(out)
	return out, nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	if parent := filepath.Dir(dir); parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	// The temp name is always removed; the content survives under path.
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// Link fails if the target appeared since Put checked, keeping the
	// store append-only without a lock.
	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrExists, filepath.Base(path))
		}
		return err
	}
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
