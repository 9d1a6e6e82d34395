package epoch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"lockwarden/internal/graph"
	"lockwarden/internal/vendoring"
)

var (
	ErrNotFound = errors.New("epoch not found")
	ErrExists   = errors.New("epoch already exists")
)

// Epoch is a digest-identified snapshot. The zero value is not valid; use New.
type Epoch struct {
	ID             string          `json:"epoch_id"`
	ProjectID      string          `json:"project_id"`
	CreatedAt      time.Time       `json:"created_at"`
	LockfileDigest string          `json:"lockfile_digest"`
	VendorDigest   string          `json:"vendor_digest,omitempty"`
	ConfigDigest   string          `json:"config_digest,omitempty"`
	GraphDigest    string          `json:"graph_digest"`
	PreviousID     *string         `json:"previous_epoch_id"`
	Snapshot       json.RawMessage `json:"snapshot"`
}

// Inputs are the digests and links an epoch is created from.
type Inputs struct {
	LockfileDigest string
	ConfigDigest   string

	// Vendor, when set, must be a valid manifest; its digest is recorded.
	Vendor *vendoring.Manifest

	// Previous is the ID of the epoch this one supersedes.
	Previous string

	// CreatedAt defaults to the current UTC time.
	CreatedAt time.Time
}

// New snapshots g. An invalid vendor manifest is refused with
// EPOCH_INVALIDATED.
func New(g *graph.Graph, in Inputs) (Epoch, error) {
	if g == nil {
		return Epoch{}, errors.New("graph is required")
	}
	if in.Vendor != nil {
		if err := in.Vendor.Err(); err != nil {
			return Epoch{}, err
		}
	}
	snapshot, err := g.CanonicalJSON()
	if err != nil {
		return Epoch{}, fmt.Errorf("encode snapshot: %w", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return Epoch{}, fmt.Errorf("generate epoch id: %w", err)
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	e := Epoch{
		ID:             id.String(),
		ProjectID:      g.ProjectID(),
		CreatedAt:      created.UTC().Truncate(time.Microsecond),
		LockfileDigest: in.LockfileDigest,
		ConfigDigest:   in.ConfigDigest,
		GraphDigest:    g.Digest().String(),
		Snapshot:       snapshot,
	}
	if in.Vendor != nil {
		e.VendorDigest = in.Vendor.VendorDigest
	}
	if prev := strings.TrimSpace(in.Previous); prev != "" {
		e.PreviousID = &prev
	}
	if err := e.Validate(); err != nil {
		return Epoch{}, err
	}
	return e, nil
}

// Validate checks required fields and that the snapshot matches GraphDigest.
func (e Epoch) Validate() error {
	var errs []error
	if _, err := uuid.Parse(e.ID); err != nil {
		errs = append(errs, fmt.Errorf("epoch_id must be a uuid: %w", err))
	}
	if strings.TrimSpace(e.ProjectID) == "" {
		errs = append(errs, errors.New("project_id is required"))
	}
	if e.CreatedAt.IsZero() {
		errs = append(errs, errors.New("created_at is required"))
	}
	if strings.TrimSpace(e.LockfileDigest) == "" {
		errs = append(errs, errors.New("lockfile_digest is required"))
	}
	if e.PreviousID != nil {
		if _, err := uuid.Parse(*e.PreviousID); err != nil {
			errs = append(errs, fmt.Errorf("previous_epoch_id must be a uuid: %w", err))
		}
	}
	if len(e.Snapshot) == 0 {
		errs = append(errs, errors.New("snapshot is required"))
	} else if g, err := graph.Decode(e.Snapshot); err != nil {
		errs = append(errs, fmt.Errorf("snapshot: %w", err))
	} else {
		if g.Digest().String() != e.GraphDigest {
			errs = append(errs, fmt.Errorf("graph_digest %q does not match snapshot digest %q", e.GraphDigest, g.Digest()))
		}
		if g.ProjectID() != e.ProjectID {
			errs = append(errs, fmt.Errorf("project_id %q does not match snapshot project %q", e.ProjectID, g.ProjectID()))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Graph decodes the snapshot.
func (e Epoch) Graph() (*graph.Graph, error) {
	return graph.Decode(e.Snapshot)
}

// Marshal renders the epoch as indented JSON with a trailing newline.
func Marshal(e Epoch) ([]byte, error) {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Unmarshal strictly decodes and validates one epoch document.
func Unmarshal(data []byte) (Epoch, error) {
	var e Epoch
	if err := decodeStrict(bytes.NewReader(data), &e); err != nil {
		return Epoch{}, err
	}
	if err := e.Validate(); err != nil {
		return Epoch{}, fmt.Errorf("invalid epoch: %w", err)
	}
	return e, nil
}

func decodeStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

// less orders epochs by creation time, then ID.
func less(a, b Epoch) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
