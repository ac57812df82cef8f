package store

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gigdesk/realtime-server/internal/model"
)

// Store provides SQL persistence via GORM for the realtime layer's
// storage collaborators: tasks, chat messages and contractor profiles.
// A Redis client, when configured, carries the contractor-location
// fast-path mirror written by a background worker.
type Store struct {
	db      *gorm.DB
	rdb     *redis.Client
	writeCh chan func() // buffered channel for async mirror writes
}

// locationMirrorKey builds the Redis key for the location mirror:
// "loc:{userID}"
func locationMirrorKey(userID string) string {
	return "loc:" + userID
}

// NewStore opens the database, auto-migrates schemas, and starts the
// background mirror-write worker. rdb may be nil; the mirror is then
// skipped.
func NewStore(dsn string, rdb *redis.Client) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.Task{},
		&model.ChatMessage{},
		&model.ContractorProfile{},
	); err != nil {
		return nil, err
	}

	s := &Store{
		db:      db,
		rdb:     rdb,
		writeCh: make(chan func(), 1024),
	}

	go s.writeWorker()

	return s, nil
}

func (s *Store) writeWorker() {
	for fn := range s.writeCh {
		fn()
	}
}

// DB returns the underlying GORM database instance.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ─────────────────────────────────────────────
// Tasks
// ─────────────────────────────────────────────

// GetTask fetches a full task row. Returns nil, nil when absent.
func (s *Store) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskParties fetches only the task's client and contractor IDs.
// Returns nil, nil when the task does not exist.
func (s *Store) GetTaskParties(ctx context.Context, taskID string) (*model.TaskParties, error) {
	var parties model.TaskParties
	err := s.db.WithContext(ctx).
		Model(&model.Task{}).
		Select("client_id", "contractor_id").
		Where("id = ?", taskID).
		Take(&parties).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &parties, nil
}

// GetActiveTaskIDs returns the IDs of the user's tasks that are not in a
// terminal status, as client or contractor. Used to auto-join task rooms
// on connect.
func (s *Store) GetActiveTaskIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("(client_id = ? OR contractor_id = ?)", userID, userID).
		Where("status NOT IN ?", model.TerminalTaskStatuses).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ─────────────────────────────────────────────
// Contractor profiles
// ─────────────────────────────────────────────

// FindEligibleContractors returns all profiles currently flagged online.
// Category, location and radius filtering happen in the ranker.
func (s *Store) FindEligibleContractors(ctx context.Context) ([]model.ContractorProfile, error) {
	var profiles []model.ContractorProfile
	err := s.db.WithContext(ctx).
		Where("is_online = ?", true).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// UpdateContractorLocation writes the durable last-location fields and
// enqueues the Redis mirror write. The SQL write is synchronous; the
// mirror is best effort.
func (s *Store) UpdateContractorLocation(ctx context.Context, userID string, lat, lng float64, observedAt time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&model.ContractorProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"last_location_lat": lat,
			"last_location_lng": lng,
			"last_location_at":  observedAt,
		}).Error
	if err != nil {
		return err
	}

	if s.rdb != nil {
		s.writeCh <- func() {
			mirrorCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.rdb.HSet(mirrorCtx, locationMirrorKey(userID),
				"lat", lat,
				"lng", lng,
				"observed_at", observedAt.UnixMilli(),
			).Err(); err != nil {
				log.Printf("[store] location mirror write error: %v", err)
			}
		}
	}

	return nil
}

// ─────────────────────────────────────────────
// Chat messages
// ─────────────────────────────────────────────

// SaveMessage persists a chat message, minting its ID and timestamp when
// unset, and returns the stored row.
func (s *Store) SaveMessage(ctx context.Context, msg *model.ChatMessage) (*model.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// FindRecentMessages returns up to limit messages for the task,
// newest first.
func (s *Store) FindRecentMessages(ctx context.Context, taskID string, limit int) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkMessagesRead bulk-sets readAt on the task's unread messages not
// authored by the reader.
func (s *Store) MarkMessagesRead(ctx context.Context, taskID, readerID string, readAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("task_id = ? AND sender_id <> ? AND read_at IS NULL", taskID, readerID).
		Update("read_at", readAt).Error
}
