package repositories

import (
	"errors"

	"gorm.io/gorm"

	"github.com/confmesh/confmesh/pkg/models"
)

type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	db.AutoMigrate(&models.DevicePreference{})
	return &PreferenceRepository{db: db}
}

// Get returns the stored device preference. A zero-value preference is
// returned when nothing has been persisted yet.
func (r *PreferenceRepository) Get() (*models.DevicePreference, error) {
	var pref models.DevicePreference
	err := r.db.Where("key = ?", models.DefaultPreferenceKey).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.DevicePreference{Key: models.DefaultPreferenceKey}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

// Save persists the preference, replacing any previous row.
func (r *PreferenceRepository) Save(pref *models.DevicePreference) error {
	pref.Key = models.DefaultPreferenceKey
	return r.db.Save(pref).Error
}

// Update applies a partial update on top of the stored preference and
// returns the result.
func (r *PreferenceRepository) Update(update models.DevicePreferenceUpdate) (*models.DevicePreference, error) {
	pref, err := r.Get()
	if err != nil {
		return nil, err
	}

	if update.AudioDeviceID != nil {
		pref.AudioDeviceID = *update.AudioDeviceID
	}
	if update.VideoDeviceID != nil {
		pref.VideoDeviceID = *update.VideoDeviceID
	}
	if update.IsMuted != nil {
		pref.IsMuted = *update.IsMuted
	}
	if update.IsVideoOff != nil {
		pref.IsVideoOff = *update.IsVideoOff
	}

	if err := r.Save(pref); err != nil {
		return nil, err
	}
	return pref, nil
}
