// Package prefs persists the client's identity and last-used settings in a
// local sqlite database, so rejoining a meeting keeps the same display name
// and media choices.
package prefs

import (
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Preferences is the single persisted row. ClientID survives restarts and
// identifies this installation; the rest mirrors the last session.
type Preferences struct {
	ID          uint   `gorm:"primaryKey"`
	ClientID    string `gorm:"uniqueIndex"`
	DisplayName string
	MicOn       bool
	CamOn       bool
	LastRoomID  string
	UpdatedAt   time.Time
}

// Store wraps the sqlite database holding preferences.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Preferences{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Load returns the stored preferences, creating a fresh row with a new
// client id on first run.
func (s *Store) Load() (*Preferences, error) {
	var p Preferences
	err := s.db.First(&p).Error
	if err == nil {
		return &p, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	p = Preferences{ClientID: uuid.NewString(), DisplayName: "Guest"}
	if err := s.db.Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Save writes the preferences back.
func (s *Store) Save(p *Preferences) error {
	return s.db.Save(p).Error
}
