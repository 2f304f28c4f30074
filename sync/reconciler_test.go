package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/venturelab/boardsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&models.Connection{}, &models.CardMapping{}, &models.Artifact{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedMappedArtifact(t *testing.T, db *gorm.DB, teamID, artifactID, cardID string, status models.ArtifactStatus) {
	t.Helper()
	artifact := models.Artifact{
		ID:     artifactID,
		TeamID: teamID,
		Type:   "value_proposition",
		Status: status,
		Title:  "Value proposition",
	}
	if err := db.Create(&artifact).Error; err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	mapping := models.CardMapping{
		ArtifactID: artifactID,
		CardID:     cardID,
		TeamID:     teamID,
	}
	if err := db.Create(&mapping).Error; err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
}

func TestIsCompletionList(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Done", true},
		{"Done ✅", true},
		{"DONE!", true},
		{"Completed items", true},
		{"finished", true},
		{"Backlog", false},
		{"In Progress", false},
		{"To Do", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsCompletionList(tc.name); got != tc.want {
			t.Errorf("IsCompletionList(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestReconcileCompletesMappedCard(t *testing.T) {
	db := newTestDB(t)
	seedMappedArtifact(t, db, "team-1", "artifact-1", "card-1", models.StatusInProgress)

	r := NewReconciler(db, zap.NewNop())
	outcome, err := r.Reconcile(context.Background(), "team-1", "card-1", "Done ✅")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != Applied {
		t.Fatalf("outcome = %v, want applied", outcome)
	}

	var artifact models.Artifact
	if err := db.First(&artifact, "id = ?", "artifact-1").Error; err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if artifact.Status != models.StatusComplete {
		t.Errorf("artifact status = %q, want complete", artifact.Status)
	}

	var mapping models.CardMapping
	if err := db.First(&mapping, "artifact_id = ?", "artifact-1").Error; err != nil {
		t.Fatalf("load mapping: %v", err)
	}
	if mapping.LastPulledAt == nil {
		t.Error("last_pulled_at was not stamped")
	}
}

func TestReconcileIdempotentUnderDuplicateDelivery(t *testing.T) {
	db := newTestDB(t)
	seedMappedArtifact(t, db, "team-1", "artifact-1", "card-1", models.StatusInProgress)

	r := NewReconciler(db, zap.NewNop())
	if _, err := r.Reconcile(context.Background(), "team-1", "card-1", "Done"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	var first models.CardMapping
	if err := db.First(&first, "artifact_id = ?", "artifact-1").Error; err != nil {
		t.Fatalf("load mapping: %v", err)
	}
	if first.LastPulledAt == nil {
		t.Fatal("first reconcile did not stamp last_pulled_at")
	}

	time.Sleep(10 * time.Millisecond)
	outcome, err := r.Reconcile(context.Background(), "team-1", "card-1", "Done")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if outcome != Applied {
		t.Fatalf("second outcome = %v, want applied", outcome)
	}

	var artifact models.Artifact
	if err := db.First(&artifact, "id = ?", "artifact-1").Error; err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if artifact.Status != models.StatusComplete {
		t.Errorf("artifact status = %q after replay, want complete", artifact.Status)
	}

	var second models.CardMapping
	if err := db.First(&second, "artifact_id = ?", "artifact-1").Error; err != nil {
		t.Fatalf("reload mapping: %v", err)
	}
	if second.LastPulledAt == nil || !second.LastPulledAt.After(*first.LastPulledAt) {
		t.Error("replay did not refresh last_pulled_at")
	}

	var artifactCount, mappingCount int64
	db.Model(&models.Artifact{}).Count(&artifactCount)
	db.Model(&models.CardMapping{}).Count(&mappingCount)
	if artifactCount != 1 || mappingCount != 1 {
		t.Errorf("row counts after replay: artifacts=%d mappings=%d, want 1/1", artifactCount, mappingCount)
	}
}

func TestReconcileIgnoresNonCompletionList(t *testing.T) {
	db := newTestDB(t)
	seedMappedArtifact(t, db, "team-1", "artifact-1", "card-1", models.StatusInProgress)

	r := NewReconciler(db, zap.NewNop())
	outcome, err := r.Reconcile(context.Background(), "team-1", "card-1", "Backlog")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != Ignored {
		t.Fatalf("outcome = %v, want ignored", outcome)
	}

	var artifact models.Artifact
	if err := db.First(&artifact, "id = ?", "artifact-1").Error; err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if artifact.Status != models.StatusInProgress {
		t.Errorf("artifact status = %q, want in_progress untouched", artifact.Status)
	}
}

func TestReconcileIgnoresUnknownCard(t *testing.T) {
	db := newTestDB(t)

	r := NewReconciler(db, zap.NewNop())
	outcome, err := r.Reconcile(context.Background(), "team-1", "card-missing", "Done")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != Ignored {
		t.Fatalf("outcome = %v, want ignored", outcome)
	}
}

func TestReconcileScopesLookupByTeam(t *testing.T) {
	db := newTestDB(t)
	seedMappedArtifact(t, db, "team-a", "artifact-a", "card-1", models.StatusInProgress)

	// Same card ID delivered for an unrelated team must not touch team A.
	r := NewReconciler(db, zap.NewNop())
	outcome, err := r.Reconcile(context.Background(), "team-b", "card-1", "Done")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome != Ignored {
		t.Fatalf("outcome = %v, want ignored for foreign team", outcome)
	}

	var artifact models.Artifact
	if err := db.First(&artifact, "id = ?", "artifact-a").Error; err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if artifact.Status != models.StatusInProgress {
		t.Errorf("cross-team delivery changed artifact status to %q", artifact.Status)
	}
}
