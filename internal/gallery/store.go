package gallery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/outletguard/orchestrator/internal/logger"
)

// SampleMeta records per-sample enrollment diagnostics, carried through to
// the gallery file's meta.samples array.
type SampleMeta struct {
	DetScore    float64 `json:"det_score"`
	FaceWidthPx int     `json:"face_width_px"`
}

// PersonMeta is the gallery file's "meta" sub-object.
type PersonMeta struct {
	CreatedAt      time.Time    `json:"created_at"`
	NumSamples     int          `json:"num_samples"`
	MinDetScore    float64      `json:"min_det_score"`
	MinFaceWidthPx int          `json:"min_face_width_px"`
	Samples        []SampleMeta `json:"samples"`
}

// document is the on-disk JSON shape of one gallery file.
type document struct {
	TargetID   string      `json:"target_id"`
	Name       string      `json:"name"`
	Embeddings [][]float32 `json:"embeddings"`
	Meta       PersonMeta  `json:"meta"`
}

// Store persists and loads gallery documents under <data_dir>/gallery/.
type Store struct {
	root string
	log  *logger.Logger
}

// NewStore creates a gallery file store rooted at dataDir/gallery.
func NewStore(dataDir string, log *logger.Logger) (*Store, error) {
	root := filepath.Join(dataDir, "gallery")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create gallery dir: %w", err)
	}
	return &Store{root: root, log: log}, nil
}

// SavePerson writes (or overwrites) one target's gallery document.
func (s *Store) SavePerson(targetID, name string, embeddings [][]float32, meta PersonMeta) (string, error) {
	doc := document{TargetID: targetID, Name: name, Embeddings: embeddings, Meta: meta}
	path := filepath.Join(s.root, targetID+".json")
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal gallery document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write gallery document: %w", err)
	}
	return path, nil
}

// FaceCropPath returns the path a "last enrolled face" JPEG is written to.
func (s *Store) FaceCropPath(targetID string) string {
	return filepath.Join(s.root, targetID+"_last_face.jpg")
}

// LoadAll reads every *.json gallery document into Identity records, in
// lexical filename order (a stable, deterministic insertion order for
// Build). Corrupt files are skipped and logged, per the error-handling
// policy: a malformed gallery entry never aborts the worker.
func (s *Store) LoadAll() ([]Identity, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read gallery dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Identity
	for _, name := range names {
		path := filepath.Join(s.root, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logWarn("failed to read gallery file", path, err)
			continue
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logWarn("failed to parse gallery file", path, err)
			continue
		}
		out = append(out, Identity{
			TargetID:    doc.TargetID,
			DisplayName: doc.Name,
			Embeddings:  doc.Embeddings,
		})
	}
	return out, nil
}

func (s *Store) logWarn(msg, path string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "path", path, "error", err)
	}
}
