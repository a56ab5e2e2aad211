package repositories

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/confmesh/confmesh/pkg/models"
)

func newTestRepo(t *testing.T) *PreferenceRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return NewPreferenceRepository(db)
}

func TestGetReturnsDefaultWhenEmpty(t *testing.T) {
	repo := newTestRepo(t)

	pref, err := repo.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pref.Key != models.DefaultPreferenceKey {
		t.Errorf("Expected default key, got %q", pref.Key)
	}
	if pref.AudioDeviceID != "" || pref.IsMuted {
		t.Errorf("Expected zero-value preference, got %+v", pref)
	}
}

func TestSaveAndGetRoundtrip(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Save(&models.DevicePreference{
		AudioDeviceID: "mic-2",
		VideoDeviceID: "cam-1",
		IsMuted:       true,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	pref, err := repo.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pref.AudioDeviceID != "mic-2" || pref.VideoDeviceID != "cam-1" || !pref.IsMuted {
		t.Errorf("Unexpected preference: %+v", pref)
	}
}

func TestUpdateIsPartial(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Save(&models.DevicePreference{AudioDeviceID: "mic-1", IsMuted: false}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	muted := true
	pref, err := repo.Update(models.DevicePreferenceUpdate{IsMuted: &muted})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if !pref.IsMuted {
		t.Error("Expected IsMuted updated")
	}
	if pref.AudioDeviceID != "mic-1" {
		t.Errorf("Expected untouched audio device, got %q", pref.AudioDeviceID)
	}

	stored, err := repo.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.IsMuted || stored.AudioDeviceID != "mic-1" {
		t.Errorf("Update not persisted: %+v", stored)
	}
}

func TestSaveReplacesRow(t *testing.T) {
	repo := newTestRepo(t)

	repo.Save(&models.DevicePreference{AudioDeviceID: "mic-1"})
	repo.Save(&models.DevicePreference{AudioDeviceID: "mic-2"})

	var count int64
	repo.db.Model(&models.DevicePreference{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected a single preference row, got %d", count)
	}
}
