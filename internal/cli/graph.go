package cli

import (
	"fmt"
	"os"

	"lockwarden/internal/classify"
	"lockwarden/internal/lockfile"
)

// buildGraph reads a lockfile, merges optional cargo metadata and classifies
// the result. Local packages are resolved against the workspace even when
// the lockfile lives elsewhere.
func (s *session) buildGraph(lockPath, metadataPath string) (*lockfile.Result, error) {
	lock, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, fmt.Errorf("read lockfile: %w", err)
	}
	var meta []byte
	if metadataPath != "" {
		meta, err = os.ReadFile(metadataPath)
		if err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
	}

	res, err := lockfile.Build(lock, meta, lockfile.Options{
		ProjectID: s.projectID(),
		Root:      s.inv.WorkDir,
	})
	if err != nil {
		return nil, err
	}
	for _, d := range res.Diagnostics {
		s.logger.Printf("diagnostic code=%s lockfile=%s %s", d.Code, lockPath, d.Message)
	}

	c, err := classify.NewClassifier(s.cfg.Classification)
	if err != nil {
		return nil, err
	}
	g, err := c.ClassifyGraph(res.Graph)
	if err != nil {
		return nil, err
	}
	res.Graph = g
	s.logger.Printf("graph built %s", g)
	return res, nil
}

func (s *session) projectID() string {
	if s.inv.ProjectID != "" {
		return s.inv.ProjectID
	}
	return s.cfg.ProjectID
}
