package models

import "time"

// DefaultPreferenceKey is the fixed key under which the single device
// preference row is stored.
const DefaultPreferenceKey = "default"

// DevicePreference holds the capture devices and mute state a user chose in a
// previous session. It outlives meeting sessions and is re-read at every lobby
// entry.
type DevicePreference struct {
	Key           string    `json:"-" gorm:"type:varchar(32);primaryKey"`
	AudioDeviceID string    `json:"audioDeviceId" gorm:"type:varchar(64)"`
	VideoDeviceID string    `json:"videoDeviceId" gorm:"type:varchar(64)"`
	IsMuted       bool      `json:"isMuted"`
	IsVideoOff    bool      `json:"isVideoOff"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`
}

// TableName overrides the table name
func (DevicePreference) TableName() string {
	return "device_preferences"
}

// DevicePreferenceUpdate represents a partial preference update
type DevicePreferenceUpdate struct {
	AudioDeviceID *string `json:"audioDeviceId,omitempty"`
	VideoDeviceID *string `json:"videoDeviceId,omitempty"`
	IsMuted       *bool   `json:"isMuted,omitempty"`
	IsVideoOff    *bool   `json:"isVideoOff,omitempty"`
}
