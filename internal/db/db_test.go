package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// openTestDB creates an in-memory database for testing
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != LatestSchemaVersion() {
		t.Errorf("expected version %d, got %d", LatestSchemaVersion(), version)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "slidechat.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version == 0 {
		t.Error("expected migrations to be applied")
	}
}

// --- Presentation Tests ---

func TestCreatePresentation(t *testing.T) {
	db := openTestDB(t)

	p, err := db.CreatePresentation(CreatePresentationInput{
		FilePath: "presentation/1700000000000-deck.pptx",
		FileName: "deck.pptx",
	})
	if err != nil {
		t.Fatalf("create presentation: %v", err)
	}

	if _, err := ParseUUID(p.ID); err != nil {
		t.Errorf("expected UUID id, got %q", p.ID)
	}
	if p.FilePath != "presentation/1700000000000-deck.pptx" {
		t.Errorf("expected file path to round-trip, got %q", p.FilePath)
	}
	if p.FileName != "deck.pptx" {
		t.Errorf("expected file name 'deck.pptx', got %q", p.FileName)
	}
	if p.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestCreatePresentation_RequiresFields(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreatePresentation(CreatePresentationInput{FileName: "deck.pptx"}); err == nil {
		t.Error("expected error for missing file path")
	}
	if _, err := db.CreatePresentation(CreatePresentationInput{FilePath: "presentation/x.pptx"}); err == nil {
		t.Error("expected error for missing file name")
	}
}

func TestGetPresentation(t *testing.T) {
	db := openTestDB(t)

	created, err := db.CreatePresentation(CreatePresentationInput{
		FilePath:    "presentation/1-a.pptx",
		FileName:    "a.pptx",
		ContentType: "application/vnd.ms-powerpoint",
		SizeBytes:   2048,
	})
	if err != nil {
		t.Fatalf("create presentation: %v", err)
	}

	got, err := db.GetPresentation(created.ID)
	if err != nil {
		t.Fatalf("get presentation: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected id %q, got %q", created.ID, got.ID)
	}
	if got.ContentType != "application/vnd.ms-powerpoint" || got.SizeBytes != 2048 {
		t.Errorf("unexpected metadata: %+v", got)
	}
}

func TestGetPresentation_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetPresentation(NewUUID())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPresentation_InvalidID(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetPresentation("not-a-uuid")
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestListPresentations_NewestFirst(t *testing.T) {
	db := openTestDB(t)

	empty, err := db.ListPresentations()
	if err != nil {
		t.Fatalf("list presentations: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", empty)
	}

	first, _ := db.CreatePresentation(CreatePresentationInput{FilePath: "presentation/1-a.pptx", FileName: "a.pptx"})
	time.Sleep(2 * time.Millisecond)
	second, _ := db.CreatePresentation(CreatePresentationInput{FilePath: "presentation/2-b.pptx", FileName: "b.pptx"})

	list, err := db.ListPresentations()
	if err != nil {
		t.Fatalf("list presentations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 presentations, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected newest first, got %q then %q", list[0].FileName, list[1].FileName)
	}
}

func TestDeletePresentation(t *testing.T) {
	db := openTestDB(t)

	p, _ := db.CreatePresentation(CreatePresentationInput{FilePath: "presentation/1-a.pptx", FileName: "a.pptx"})
	if err := db.DeletePresentation(p.ID); err != nil {
		t.Fatalf("delete presentation: %v", err)
	}
	if _, err := db.GetPresentation(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := db.DeletePresentation(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

// --- Passkey Tests ---

func TestPasskeys_Lifecycle(t *testing.T) {
	db := openTestDB(t)

	pk := &Passkey{
		CredentialID:   []byte{1, 2, 3},
		PublicKey:      []byte{4, 5, 6},
		Name:           "Laptop",
		Transports:     []string{"internal", "hybrid"},
		BackupEligible: true,
	}
	if err := db.CreatePasskey(pk); err != nil {
		t.Fatalf("create passkey: %v", err)
	}
	if pk.ID == "" || pk.CreatedAt.IsZero() {
		t.Fatalf("expected id and creation time to be assigned: %+v", pk)
	}

	n, err := db.CountPasskeys()
	if err != nil || n != 1 {
		t.Fatalf("expected 1 passkey, got %d (%v)", n, err)
	}

	list, err := db.ListPasskeys()
	if err != nil || len(list) != 1 {
		t.Fatalf("list passkeys: %v (%d)", err, len(list))
	}
	got := list[0]
	if got.Name != "Laptop" || len(got.Transports) != 2 || got.Transports[1] != "hybrid" {
		t.Errorf("unexpected passkey: %+v", got)
	}
	if !got.BackupEligible || got.BackupState {
		t.Errorf("backup flags not round-tripped: %+v", got)
	}
	if got.LastUsedAt != nil {
		t.Error("expected last_used_at to be unset before first use")
	}

	if err := db.TouchPasskey([]byte{1, 2, 3}, 7, true); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := db.RenamePasskey(pk.ID, "Phone"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	list, _ = db.ListPasskeys()
	if list[0].Name != "Phone" || list[0].SignCount != 7 || !list[0].BackupState || list[0].LastUsedAt == nil {
		t.Errorf("unexpected passkey after use: %+v", list[0])
	}

	if err := db.DeletePasskey(pk.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.DeletePasskey(pk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := db.TouchPasskey([]byte{1, 2, 3}, 8, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a deleted credential, got %v", err)
	}
}

func TestPasskeys_EmptyListAndValidation(t *testing.T) {
	db := openTestDB(t)

	list, err := db.ListPasskeys()
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %v (%v)", list, err)
	}
	if err := db.CreatePasskey(&Passkey{Name: "incomplete"}); err == nil {
		t.Error("expected a credential without key material to be rejected")
	}
	if err := db.CreatePasskey(&Passkey{CredentialID: []byte{9}, PublicKey: []byte{9}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.CreatePasskey(&Passkey{CredentialID: []byte{9}, PublicKey: []byte{9}}); err == nil {
		t.Error("expected duplicate credential id to be rejected")
	}
}

func TestRenamePasskey_NotFound(t *testing.T) {
	db := openTestDB(t)

	if err := db.RenamePasskey("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
