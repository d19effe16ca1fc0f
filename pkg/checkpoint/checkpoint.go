// Package checkpoint implements durable, resumable per-run state. A
// CheckpointStore is a key-value store keyed by run ID, backed by one
// directory per run under a configurable state root, with true atomic
// writes and single-owner enforcement via a lock file.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/clipforge/pipeline/pkg/perr"
)

// Stage identifies a point in the pipeline's fixed stage sequence.
type Stage string

const (
	StagePending            Stage = "PENDING"
	StageFetch              Stage = "FETCH"
	StageExtractAudio       Stage = "EXTRACT_AUDIO"
	StageTranscribe         Stage = "TRANSCRIBE"
	StageAnalyze            Stage = "ANALYZE"
	StageAwaitUserSelection Stage = "AWAIT_USER_SELECTION"
	StageTranslate          Stage = "TRANSLATE"
	StageGenerateSubtitles  Stage = "GENERATE_SUBTITLES"
	StageEditVideo          Stage = "EDIT_VIDEO"
	StageExport             Stage = "EXPORT"
	StageCompleted          Stage = "COMPLETED"
	StageFailed             Stage = "FAILED"
	StageCanceled           Stage = "CANCELED"
)

// stageOrder gives each non-terminal stage a monotonic rank so the store
// can refuse to let a run's cursor move backwards.
var stageOrder = map[Stage]int{
	StagePending:            0,
	StageFetch:              1,
	StageExtractAudio:       2,
	StageTranscribe:         3,
	StageAnalyze:            4,
	StageAwaitUserSelection: 5,
	StageTranslate:          6,
	StageGenerateSubtitles:  7,
	StageEditVideo:          8,
	StageExport:             9,
	StageCompleted:          10,
	StageFailed:             10,
	StageCanceled:           10,
}

// IsTerminal reports whether a run in this stage is done — successfully,
// by failure, or by cancellation.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCanceled
}

// Checkpoint is the durable snapshot of one run's progress.
type Checkpoint struct {
	RunID               string         `json:"run_id"`
	Stage               Stage          `json:"stage"`
	StageProgress       float64        `json:"stage_progress"`
	CompletedItems      []string       `json:"completed_items"`
	CurrentItem         string         `json:"current_item,omitempty"`
	CurrentItemProgress float64        `json:"current_item_progress"`
	LastError           string         `json:"last_error,omitempty"`
	RetryCount          int            `json:"retry_count"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	ConfigSnapshot      map[string]any `json:"config_snapshot,omitempty"`
}

// completedSet returns CompletedItems as a lookup set.
func (c *Checkpoint) completedSet() map[string]bool {
	set := make(map[string]bool, len(c.CompletedItems))
	for _, id := range c.CompletedItems {
		set[id] = true
	}
	return set
}

// MarkCompleted adds item to CompletedItems if not already present,
// preserving sorted order so serialization is stable.
func (c *Checkpoint) MarkCompleted(item string) {
	set := c.completedSet()
	if set[item] {
		return
	}
	c.CompletedItems = append(c.CompletedItems, item)
	sort.Strings(c.CompletedItems)
}

// HasCompleted reports whether item is already recorded as done.
func (c *Checkpoint) HasCompleted(item string) bool {
	return c.completedSet()[item]
}

const lockFileName = "lock"
const checkpointFileName = "checkpoint.json"

// Store is a durable, single-owner-per-run checkpoint store rooted at a
// configurable state directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root. The directory is created on
// first Open/Save if it does not exist.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// Open claims exclusive ownership of runID's checkpoint directory by
// creating a lock file with O_EXCL. A second process calling Open for
// the same runID receives a corrupt_state/already_locked PipelineError
// while the first owner continues unaffected.
func (s *Store) Open(runID string) error {
	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create run dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "temp"), 0o755); err != nil {
		return fmt.Errorf("checkpoint: create temp dir: %w", err)
	}

	lockPath := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return perr.New(perr.KindCorruptState, "", err, "already_locked")
		}
		return fmt.Errorf("checkpoint: create lock: %w", err)
	}
	return f.Close()
}

// Save persists cp atomically: write to a temp file in the same
// directory, fsync, then rename over the checkpoint file. The store
// refuses to let the stage cursor move backwards within a process and
// enforces that CompletedItems only grows.
func (s *Store) Save(cp *Checkpoint) error {
	if cp.RunID == "" {
		return fmt.Errorf("checkpoint: run ID is required")
	}

	dir := s.runDir(cp.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create run dir: %w", err)
	}

	if prev, err := s.loadLocked(cp.RunID); err == nil && prev != nil {
		if stageOrder[cp.Stage] < stageOrder[prev.Stage] {
			return fmt.Errorf("checkpoint: stage cursor cannot move backwards (%s -> %s)", prev.Stage, cp.Stage)
		}
		prevSet := prev.completedSet()
		for id := range prevSet {
			if !cp.HasCompleted(id) {
				return fmt.Errorf("checkpoint: completed_items must grow monotonically, missing %q", id)
			}
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = prev.CreatedAt
		}
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	finalPath := filepath.Join(dir, checkpointFileName)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load returns the latest successfully persisted checkpoint for runID,
// or nil if none exists.
func (s *Store) Load(runID string) (*Checkpoint, error) {
	return s.loadLocked(runID)
}

func (s *Store) loadLocked(runID string) (*Checkpoint, error) {
	path := filepath.Join(s.runDir(runID), checkpointFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", runID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, perr.New(perr.KindCorruptState, "", err, "checkpoint file is corrupt")
	}
	return &cp, nil
}

// Delete removes a run's entire checkpoint directory, including its
// lock file. Called on successful EXPORT completion when
// checkpoint.cleanup_on_success is enabled.
func (s *Store) Delete(runID string) error {
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", runID, err)
	}
	return nil
}

// Release removes only the lock file, leaving the checkpoint itself
// intact so the run can be resumed by a later Open.
func (s *Store) Release(runID string) error {
	path := filepath.Join(s.runDir(runID), lockFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: release lock: %w", err)
	}
	return nil
}

// ListIncomplete returns every checkpoint under the store root whose
// stage is non-terminal, for CLI resume-candidate listing.
func (s *Store) ListIncomplete() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}

	var out []*Checkpoint
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cp, err := s.loadLocked(e.Name())
		if err != nil || cp == nil {
			continue
		}
		if !cp.Stage.IsTerminal() {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

// TempDir returns the scratch directory for a run's in-progress stage
// work.
func (s *Store) TempDir(runID string) string {
	return filepath.Join(s.runDir(runID), "temp")
}
