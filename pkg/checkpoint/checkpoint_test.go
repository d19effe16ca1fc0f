package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/clipforge/pipeline/pkg/perr"
)

func TestOpenSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Open("run-001"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	cp := &Checkpoint{
		RunID:          "run-001",
		Stage:          StageTranscribe,
		StageProgress:  0.5,
		CompletedItems: []string{"1", "2"},
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("run-001")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil")
	}
	if loaded.Stage != StageTranscribe {
		t.Errorf("Stage = %v, want %v", loaded.Stage, StageTranscribe)
	}
	if len(loaded.CompletedItems) != 2 {
		t.Errorf("CompletedItems len = %d, want 2", len(loaded.CompletedItems))
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestOpen_RefusesSecondOwner(t *testing.T) {
	dir := t.TempDir()
	storeA := NewStore(dir)
	storeB := NewStore(dir)

	if err := storeA.Open("run-002"); err != nil {
		t.Fatalf("Open (A): %v", err)
	}

	err := storeB.Open("run-002")
	if err == nil {
		t.Fatal("expected Open (B) to fail while A holds the lock")
	}

	var pe *perr.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PipelineError, got %T: %v", err, err)
	}
	if pe.Kind != perr.KindCorruptState {
		t.Errorf("Kind = %v, want %v", pe.Kind, perr.KindCorruptState)
	}

	// A continues unaffected.
	cp := &Checkpoint{RunID: "run-002", Stage: StageFetch}
	if err := storeA.Save(cp); err != nil {
		t.Fatalf("Save (A) after B's failed Open: %v", err)
	}
}

func TestSave_StageCursorCannotMoveBackwards(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Save(&Checkpoint{RunID: "run-003", Stage: StageTranscribe}); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	err := store.Save(&Checkpoint{RunID: "run-003", Stage: StageFetch})
	if err == nil {
		t.Fatal("expected error moving stage cursor backwards")
	}
}

func TestSave_CompletedItemsMustGrow(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	cp := &Checkpoint{RunID: "run-004", Stage: StageTranslate, CompletedItems: []string{"1", "2", "3"}}
	if err := store.Save(cp); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	regressed := &Checkpoint{RunID: "run-004", Stage: StageTranslate, CompletedItems: []string{"1", "2"}}
	if err := store.Save(regressed); err == nil {
		t.Fatal("expected error when completed_items shrinks")
	}

	grown := &Checkpoint{RunID: "run-004", Stage: StageTranslate, CompletedItems: []string{"1", "2", "3", "4"}}
	if err := store.Save(grown); err != nil {
		t.Fatalf("Save with grown completed_items: %v", err)
	}
}

func TestMarkCompleted_NoDuplicates(t *testing.T) {
	cp := &Checkpoint{RunID: "run-005"}
	cp.MarkCompleted("a")
	cp.MarkCompleted("b")
	cp.MarkCompleted("a")

	if len(cp.CompletedItems) != 2 {
		t.Errorf("CompletedItems = %v, want 2 unique entries", cp.CompletedItems)
	}
	if !cp.HasCompleted("a") || !cp.HasCompleted("b") {
		t.Error("expected both a and b marked completed")
	}
	if cp.HasCompleted("c") {
		t.Error("c should not be marked completed")
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Save(&Checkpoint{RunID: "run-006", Stage: StageFetch}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete("run-006"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	cp, err := store.Load("run-006")
	if err != nil {
		t.Fatalf("Load after Delete: %v", err)
	}
	if cp != nil {
		t.Error("expected nil checkpoint after Delete")
	}
}

func TestListIncomplete(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Save(&Checkpoint{RunID: "run-a", Stage: StageTranscribe}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&Checkpoint{RunID: "run-b", Stage: StageCompleted}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&Checkpoint{RunID: "run-c", Stage: StageTranslate}); err != nil {
		t.Fatal(err)
	}

	incomplete, err := store.ListIncomplete()
	if err != nil {
		t.Fatalf("ListIncomplete: %v", err)
	}
	if len(incomplete) != 2 {
		t.Fatalf("len(incomplete) = %d, want 2", len(incomplete))
	}
	if incomplete[0].RunID != "run-a" || incomplete[1].RunID != "run-c" {
		t.Errorf("unexpected incomplete set: %+v", incomplete)
	}
}

func TestSave_RoundTripPreservesFields(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	cp := &Checkpoint{
		RunID:          "run-008",
		Stage:          StageAnalyze,
		StageProgress:  0.75,
		CompletedItems: []string{"1", "2", "3"},
		CurrentItem:    "seg-3",
		ConfigSnapshot: map[string]any{"quality": "1080p"},
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("run-008")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff(cp, loaded, cmpopts.IgnoreFields(Checkpoint{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Errorf("round-tripped checkpoint mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_CorruptState(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Open("run-007"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "run-007", "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := store.Load("run-007")
	if err == nil {
		t.Fatal("expected error loading corrupt checkpoint")
	}
	var pe *perr.PipelineError
	if !errors.As(err, &pe) || pe.Kind != perr.KindCorruptState {
		t.Fatalf("expected corrupt_state PipelineError, got %v", err)
	}
}
