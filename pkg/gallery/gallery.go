// Package gallery holds the enrolled identities and their reference
// embeddings. The store keeps an immutable snapshot that is swapped
// atomically on retrain, so readers never observe a partially updated
// gallery.
package gallery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/classtrack/classtrack/pkg/logging"
)

// Identity is one enrolled person. A trained identity always has at
// least one reference embedding.
type Identity struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Embeddings  [][]float32 `json:"embeddings"`
	EnrolledAt  time.Time   `json:"enrolled_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Snapshot is an immutable view of the gallery. Identities are sorted by
// ID. Callers must not mutate the contents.
type Snapshot struct {
	Version    uint64
	Identities []Identity
}

// ErrGalleryNotFound is returned when the backing file does not exist.
var ErrGalleryNotFound = errors.New("gallery file not found")

// ErrCorruptGallery is returned when the backing file cannot be decoded
// or violates gallery invariants.
var ErrCorruptGallery = errors.New("gallery file corrupt")

// ErrInvalidEmbedding is returned when an embedding has the wrong
// dimensionality.
var ErrInvalidEmbedding = errors.New("invalid embedding dimensionality")

// Store is the file-backed gallery store.
type Store struct {
	path              string
	dim               int
	encryptionEnabled bool
	encryptionKey     [KeySize]byte

	mu   sync.Mutex // serializes mutation and persistence
	snap atomic.Pointer[Snapshot]
}

// NewStore creates a gallery store backed by the given file. dim is the
// embedding length produced by the model; every stored embedding is
// validated against it.
func NewStore(path string, dim int, encryptionEnabled bool) (*Store, error) {
	s := &Store{
		path:              path,
		dim:               dim,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		s.encryptionKey = key
	}

	return s, nil
}

type galleryFile struct {
	Identities []Identity `json:"identities"`
}

// Load reads the gallery from disk and installs it as the current
// snapshot. It fails if the file is missing, cannot be decoded, or
// contains an identity with no embeddings.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrGalleryNotFound, s.path)
		}
		return fmt.Errorf("failed to read gallery: %w", err)
	}

	if s.encryptionEnabled {
		data, err = decrypt(data, &s.encryptionKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptGallery, err)
		}
	}

	var file galleryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptGallery, err)
	}

	if err := s.validate(file.Identities); err != nil {
		return err
	}

	sortIdentities(file.Identities)
	s.install(file.Identities)

	logging.Component("gallery").Infof("Loaded %d identities from %s", len(file.Identities), s.path)
	return nil
}

// Init writes an empty gallery file if none exists, then loads it. Used
// by the enrollment path on first run; the scanner requires Load to
// succeed on an existing file.
func (s *Store) Init() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.mu.Lock()
		if err := s.persist(nil); err != nil {
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
	}
	return s.Load()
}

// Snapshot returns the current gallery snapshot. Safe to call
// concurrently with ReplaceIdentity; the result is either the old or the
// new gallery, never a mix.
func (s *Store) Snapshot() *Snapshot {
	snap := s.snap.Load()
	if snap == nil {
		return &Snapshot{}
	}
	return snap
}

// ReplaceIdentity atomically replaces (or enrolls) one identity's
// embedding set. On any failure the prior gallery is untouched.
func (s *Store) ReplaceIdentity(id, displayName string, embeddings [][]float32) error {
	if id == "" {
		return errors.New("identity id must not be empty")
	}
	if len(embeddings) == 0 {
		return fmt.Errorf("%w: identity %s has no embeddings", ErrInvalidEmbedding, id)
	}
	for _, emb := range embeddings {
		if len(emb) != s.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrInvalidEmbedding, len(emb), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	now := time.Now()

	// Build the replacement set before touching anything shared.
	next := make([]Identity, 0, len(cur.Identities)+1)
	replaced := false
	for _, ident := range cur.Identities {
		if ident.ID == id {
			next = append(next, Identity{
				ID:          id,
				DisplayName: displayName,
				Embeddings:  copyEmbeddings(embeddings),
				EnrolledAt:  ident.EnrolledAt,
				UpdatedAt:   now,
			})
			replaced = true
			continue
		}
		next = append(next, ident)
	}
	if !replaced {
		next = append(next, Identity{
			ID:          id,
			DisplayName: displayName,
			Embeddings:  copyEmbeddings(embeddings),
			EnrolledAt:  now,
			UpdatedAt:   now,
		})
	}
	sortIdentities(next)

	if err := s.persist(next); err != nil {
		return err
	}
	s.install(next)

	logging.Component("gallery").WithFields(logging.Fields{
		"identity":   id,
		"embeddings": len(embeddings),
	}).Info("Identity replaced")
	return nil
}

// persist writes the identity set to disk, temp-then-rename so a crash
// mid-write never corrupts the existing file. Callers hold s.mu.
func (s *Store) persist(identities []Identity) error {
	data, err := json.MarshalIndent(galleryFile{Identities: identities}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal gallery: %w", err)
	}

	if s.encryptionEnabled {
		data, err = encrypt(data, &s.encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt gallery: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write gallery: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace gallery file: %w", err)
	}
	return nil
}

// install swaps in a new snapshot. Callers hold s.mu.
func (s *Store) install(identities []Identity) {
	var version uint64 = 1
	if cur := s.snap.Load(); cur != nil {
		version = cur.Version + 1
	}
	s.snap.Store(&Snapshot{Version: version, Identities: identities})
}

func (s *Store) validate(identities []Identity) error {
	seen := make(map[string]bool, len(identities))
	for _, ident := range identities {
		if ident.ID == "" {
			return fmt.Errorf("%w: identity with empty id", ErrCorruptGallery)
		}
		if seen[ident.ID] {
			return fmt.Errorf("%w: duplicate identity %s", ErrCorruptGallery, ident.ID)
		}
		seen[ident.ID] = true

		if len(ident.Embeddings) == 0 {
			return fmt.Errorf("%w: identity %s has no embeddings", ErrCorruptGallery, ident.ID)
		}
		for _, emb := range ident.Embeddings {
			if len(emb) != s.dim {
				return fmt.Errorf("%w: identity %s has embedding of length %d, want %d",
					ErrCorruptGallery, ident.ID, len(emb), s.dim)
			}
		}
	}
	return nil
}

func sortIdentities(identities []Identity) {
	sort.Slice(identities, func(i, j int) bool {
		return identities[i].ID < identities[j].ID
	})
}

func copyEmbeddings(embeddings [][]float32) [][]float32 {
	out := make([][]float32, len(embeddings))
	for i, emb := range embeddings {
		out[i] = append([]float32(nil), emb...)
	}
	return out
}
