package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erc7824/nitrolite/walletlink/pairing"
	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

// DefaultKey is the storage key of the pairing session blob.
const DefaultKey = "linkwalletconnect"

// SessionRecord is one named session blob.
type SessionRecord struct {
	Key       string         `gorm:"column:storage_key;primaryKey"`
	Value     datatypes.JSON `gorm:"column:value;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

func (SessionRecord) TableName() string {
	return "session_blobs"
}

var _ pairing.SessionWriter = (*Store)(nil)

// Store persists the pairing session under a single key.
type Store struct {
	db     *gorm.DB
	key    string
	logger log.Logger
}

func NewStore(db *gorm.DB, key string, lg log.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if lg == nil {
		lg = log.NewNoopLogger()
	}

	return &Store{
		db:     db,
		key:    key,
		logger: lg.WithName("session-store").WithKV("key", key),
	}
}

// Load returns the persisted session. A missing, malformed or incomplete blob
// yields nil without an error.
func (s *Store) Load(ctx context.Context) (*pairing.Session, error) {
	var blobs []string
	err := s.db.WithContext(ctx).
		Model(&SessionRecord{}).
		Where("storage_key = ?", s.key).
		Limit(1).
		Pluck("value", &blobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(blobs) == 0 || blobs[0] == "" || blobs[0] == "null" {
		return nil, nil
	}

	var session pairing.Session
	if err := json.Unmarshal([]byte(blobs[0]), &session); err != nil {
		s.logger.Warn("ignoring malformed session blob", "error", err)
		return nil, nil
	}
	if err := session.Validate(); err != nil {
		s.logger.Warn("ignoring incomplete session blob", "error", err)
		return nil, nil
	}

	return &session, nil
}

// Save replaces the persisted session.
func (s *Store) Save(ctx context.Context, session pairing.Session) error {
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	record := SessionRecord{
		Key:       s.key,
		Value:     datatypes.JSON(blob),
		UpdatedAt: time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("session saved", "connected", session.Connected)
	return nil
}

// Clear removes the persisted session. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("storage_key = ?", s.key).Delete(&SessionRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
