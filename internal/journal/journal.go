// Package journal keeps an off-ledger record of every anchor attempt, so that objects pushed
// to the store without a matching ledger write can be found later.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ehranchor/internal/domain"
)

// State of an anchor attempt
type State string

const (
	// StatePushed means the sealed object is in the store but no ledger write is confirmed
	StatePushed State = "pushed"
	// StateRecorded means the ledger committed the pointer
	StateRecorded State = "recorded"
	// StateFailed means the ledger write failed after the push
	StateFailed State = "failed"
)

// Entry is one anchor attempt
type Entry struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	PatientID string    `gorm:"index;not null" json:"patientId"`
	Address   string    `gorm:"not null" json:"address"`
	DocHash   string    `gorm:"index;not null" json:"docHash"`
	Mime      string    `json:"mime"`
	Size      int64     `json:"size"`
	State     State     `gorm:"index;not null" json:"state"`
	TxID      string    `json:"txId,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName hard code table name
func (Entry) TableName() string {
	return "anchor_journal"
}

// Journal records anchor attempts
type Journal interface {
	// RecordPush stores a new attempt in StatePushed and returns it with its id
	RecordPush(ctx context.Context, e Entry) (Entry, error)
	// MarkRecorded moves an attempt to StateRecorded
	MarkRecorded(ctx context.Context, id, txID string) error
	// MarkFailed moves an attempt to StateFailed
	MarkFailed(ctx context.Context, id string, cause error) error
	// ListUnrecorded returns attempts not recorded on the ledger and last touched before olderThan
	ListUnrecorded(ctx context.Context, olderThan time.Time) ([]Entry, error)
	// ListByPatient returns the attempts for a patient, oldest first
	ListByPatient(ctx context.Context, patientID string) ([]Entry, error)
}

// GetSqliteDialector returns a sqlite dialector for dbFile
func GetSqliteDialector(dbFile string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("%s?_busy_timeout=5000", dbFile))
}

type sqlJournal struct {
	db *gorm.DB
}

// New opens the journal and migrates its table
func New(dialector gorm.Dialector, logLevel logger.LogLevel) (Journal, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return &sqlJournal{db: db}, nil
}

func (j *sqlJournal) RecordPush(ctx context.Context, e Entry) (Entry, error) {
	e.ID = ulid.Make().String()
	e.State = StatePushed
	e.TxID = ""
	e.Error = ""
	if err := j.db.WithContext(ctx).Create(&e).Error; err != nil {
		return Entry{}, fmt.Errorf("failed to record push: %w", err)
	}
	return e, nil
}

func (j *sqlJournal) MarkRecorded(ctx context.Context, id, txID string) error {
	return j.update(ctx, id, map[string]interface{}{
		"state": StateRecorded,
		"tx_id": txID,
		"error": "",
	})
}

func (j *sqlJournal) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return j.update(ctx, id, map[string]interface{}{
		"state": StateFailed,
		"error": msg,
	})
}

func (j *sqlJournal) update(ctx context.Context, id string, fields map[string]interface{}) error {
	res := j.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update journal entry %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("journal entry %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (j *sqlJournal) ListUnrecorded(ctx context.Context, olderThan time.Time) ([]Entry, error) {
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("state <> ? AND updated_at < ?", StateRecorded, olderThan).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unrecorded entries: %w", err)
	}
	return entries, nil
}

func (j *sqlJournal) ListByPatient(ctx context.Context, patientID string) ([]Entry, error) {
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to list entries for patient %s: %w", patientID, err)
	}
	return entries, nil
}
