// Package roomStore is the relational persistence collaborator: users,
// rooms, participants and message envelopes on sqlite through gorm.
package roomStore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/i5heu/cipherroom/pkg/model"
)

// Config configures the store.
type Config struct {
	// Path is the sqlite database file.
	Path string
	// BcryptCost for login and room password hashes. Defaults to
	// bcrypt.DefaultCost.
	BcryptCost int
	// Logger is an optional structured logger.
	Logger *slog.Logger
	// LogSQL enables gorm's statement log.
	LogSQL bool
}

// Store implements the persistence operations the relay and API need.
type Store struct {
	db   *gorm.DB
	log  *slog.Logger
	cost int

	// mu orders message inserts so timestamps are monotonic.
	mu     sync.Mutex
	lastTS time.Time
}

// Open opens the database, enables foreign keys and migrates the schema.
func Open(cfg Config) (*Store, error) { // A
	if cfg.Path == "" {
		return nil, errors.New("roomStore: no path provided in configuration")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("roomStore: create directory: %w", err)
		}
	}

	logLevel := logger.Silent
	if cfg.LogSQL {
		logLevel = logger.Info
	}

	dsn := cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("roomStore: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("roomStore: sql handle: %w", err)
	}
	// a single connection serializes writers and fixes message order
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRow{}, &roomRow{}, &participantRow{}, &messageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("roomStore: migrate: %w", err)
	}

	cfg.Logger.Info("room store opened", "path", cfg.Path)
	return &Store{db: db, log: cfg.Logger, cost: cfg.BcryptCost}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateUser registers a user. The login password is stored as a bcrypt
// hash.
func (s *Store) CreateUser(ctx context.Context, in model.NewUser) (model.User, error) { // A
	if err := in.Validate(); err != nil {
		return model.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return model.User{}, fmt.Errorf("roomStore: hash password: %w", err)
	}
	row := userRow{
		ID:               uuid.NewString(),
		Username:         in.Username,
		PasswordHash:     string(hash),
		PublicKey:        in.PublicKey,
		BackupSalt:       in.BackupSalt,
		BackupCiphertext: in.BackupCiphertext,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return model.User{}, model.ErrUserExists
		}
		return model.User{}, fmt.Errorf("roomStore: create user: %w", err)
	}
	return row.model(), nil
}

// FindUserByUsername returns nil when the user does not exist.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*model.User, error) { // A
	var row userRow
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("roomStore: find user: %w", err)
	}
	u := row.model()
	return &u, nil
}

// VerifyUserPassword checks a login. Unknown users and wrong passwords
// both yield model.ErrInvalidCredentials.
func (s *Store) VerifyUserPassword(ctx context.Context, username, password string) (*model.User, error) { // A
	u, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, model.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}
	return u, nil
}

// CreateRoom stores a room with its password envelope. The room password
// itself is kept only as a bcrypt hash.
func (s *Store) CreateRoom(ctx context.Context, in model.NewRoom) (model.Room, error) { // A
	if err := in.Validate(); err != nil {
		return model.Room{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return model.Room{}, fmt.Errorf("roomStore: hash room password: %w", err)
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	row := roomRow{
		ID:              id,
		Name:            in.Name,
		CreatorUsername: in.CreatorUsername,
		PasswordHash:    string(hash),
		Salt:            in.Salt,
		WrappedKey:      in.WrappedKey,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return model.Room{}, fmt.Errorf("roomStore: create room: %w", err)
	}
	return row.model(), nil
}

// FindRoom returns nil when the room does not exist.
func (s *Store) FindRoom(ctx context.Context, id string) (*model.Room, error) { // A
	var row roomRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("roomStore: find room: %w", err)
	}
	r := row.model()
	return &r, nil
}

// VerifyRoomPassword returns the room when password matches its hash.
func (s *Store) VerifyRoomPassword(ctx context.Context, id, password string) (*model.Room, error) { // A
	r, err := s.FindRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, model.ErrRoomNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)); err != nil {
		return nil, model.ErrInvalidRoomPassword
	}
	return r, nil
}

// DeleteRoom removes the room with its participants and messages.
func (s *Store) DeleteRoom(ctx context.Context, id string) error { // A
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("roomStore: delete messages: %w", err)
		}
		if err := tx.Where("room_id = ?", id).Delete(&participantRow{}).Error; err != nil {
			return fmt.Errorf("roomStore: delete participants: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&roomRow{})
		if res.Error != nil {
			return fmt.Errorf("roomStore: delete room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrRoomNotFound
		}
		return nil
	})
}

// UpsertParticipant records membership. It never stores or changes an
// invite; see CreateInvite.
func (s *Store) UpsertParticipant(ctx context.Context, p model.Participant) error { // A
	if p.RoomID == "" || p.UserID == "" || p.Username == "" {
		return errors.New("roomStore: participant needs room, user id and username")
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	row := participantRow{
		RoomID:   p.RoomID,
		UserID:   p.UserID,
		Username: p.Username,
		JoinedAt: p.JoinedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("roomStore: upsert participant: %w", err)
	}
	return nil
}

// CreateInvite stores the wrapped room key for an invitee. A participant
// row without an invite gets one; an existing invite is never replaced and
// yields model.ErrInviteExists.
func (s *Store) CreateInvite(ctx context.Context, p model.Participant) error { // A
	if p.RoomID == "" || p.UserID == "" || p.Username == "" || p.WrappedKeyForUser == "" {
		return errors.New("roomStore: invite needs room, user id, username and wrapped key")
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participantRow{
			RoomID:            p.RoomID,
			UserID:            p.UserID,
			Username:          p.Username,
			WrappedKeyForUser: p.WrappedKeyForUser,
			JoinedAt:          p.JoinedAt,
		})
		if res.Error != nil {
			return fmt.Errorf("roomStore: create invite: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
		res = tx.Model(&participantRow{}).
			Where("room_id = ? AND user_id = ? AND wrapped_key_for_user = ?", p.RoomID, p.UserID, "").
			Update("wrapped_key_for_user", p.WrappedKeyForUser)
		if res.Error != nil {
			return fmt.Errorf("roomStore: create invite: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrInviteExists
		}
		return nil
	})
}

// FindParticipant looks up a member by username.
func (s *Store) FindParticipant(ctx context.Context, roomID, username string) (*model.Participant, error) { // A
	var row participantRow
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND username = ?", roomID, username).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomStore: find participant: %w", err)
	}
	p := row.model()
	return &p, nil
}

// ListMessages returns the room's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]model.StoredMessage, error) { // A
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("roomStore: list messages: %w", err)
	}
	out := make([]model.StoredMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) nextTimestamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now
	return now
}

// CreateMessage persists an envelope and assigns its id and timestamp.
func (s *Store) CreateMessage(ctx context.Context, roomID string, iv, data []byte) (model.StoredMessage, error) { // A
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.FindRoom(ctx, roomID)
	if err != nil {
		return model.StoredMessage{}, err
	}
	if room == nil {
		return model.StoredMessage{}, model.ErrRoomNotFound
	}

	row := messageRow{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		IV:        iv,
		Data:      data,
		CreatedAt: s.nextTimestamp(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.StoredMessage{}, fmt.Errorf("roomStore: create message: %w", err)
	}
	return row.model(), nil
}
