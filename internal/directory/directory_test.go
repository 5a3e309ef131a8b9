package directory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mwhittle/esplink/internal/infrastructure/database"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	repo := NewSQLiteRepository(db.DB)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return repo
}

func TestRecordRegistrationNewDevice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.RecordRegistration(ctx, "esp-1", "AA:BB:CC:DD:EE:FF", "192.168.1.50"); err != nil {
		t.Fatalf("RecordRegistration() error = %v", err)
	}

	dev, err := repo.Get(ctx, "esp-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if dev.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC = %q, want recorded value", dev.MAC)
	}
	if dev.IP != "192.168.1.50" {
		t.Errorf("IP = %q, want recorded value", dev.IP)
	}
	if dev.RegisterCount != 1 {
		t.Errorf("RegisterCount = %d, want 1", dev.RegisterCount)
	}
	if dev.FirstSeen.IsZero() || dev.LastSeen.IsZero() {
		t.Error("timestamps not recorded")
	}
}

func TestRecordRegistrationUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.RecordRegistration(ctx, "esp-1", "AA:BB:CC:DD:EE:FF", "192.168.1.50"); err != nil {
		t.Fatalf("first RecordRegistration() error = %v", err)
	}
	// Reconnect without mac: the stored mac must survive, the ip updates.
	if err := repo.RecordRegistration(ctx, "esp-1", "", "192.168.1.99"); err != nil {
		t.Fatalf("second RecordRegistration() error = %v", err)
	}

	dev, err := repo.Get(ctx, "esp-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if dev.RegisterCount != 2 {
		t.Errorf("RegisterCount = %d, want 2", dev.RegisterCount)
	}
	if dev.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC = %q, want value preserved across empty update", dev.MAC)
	}
	if dev.IP != "192.168.1.99" {
		t.Errorf("IP = %q, want refreshed value", dev.IP)
	}
	if dev.FirstSeen.After(dev.LastSeen) {
		t.Error("first_seen is after last_seen")
	}
}

func TestGetNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "esp-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("List() on empty directory = %v, want empty slice", devices)
	}

	for _, id := range []string{"esp-a", "esp-b", "esp-c"} {
		if err := repo.RecordRegistration(ctx, id, "", ""); err != nil {
			t.Fatalf("RecordRegistration(%s) error = %v", id, err)
		}
	}

	devices, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("List() returned %d devices, want 3", len(devices))
	}
}
