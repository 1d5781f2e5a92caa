package roomStore

import (
	"time"

	"github.com/i5heu/cipherroom/pkg/model"
)

type userRow struct {
	ID               string `gorm:"primaryKey;type:text"`
	Username         string `gorm:"uniqueIndex;not null"`
	PasswordHash     string `gorm:"not null"`
	PublicKey        string `gorm:"type:text;not null"`
	BackupSalt       string
	BackupCiphertext string `gorm:"type:text"`
	CreatedAt        time.Time
}

func (userRow) TableName() string { return "users" }

func (r userRow) model() model.User {
	return model.User{
		ID:               r.ID,
		Username:         r.Username,
		PasswordHash:     r.PasswordHash,
		PublicKey:        r.PublicKey,
		BackupSalt:       r.BackupSalt,
		BackupCiphertext: r.BackupCiphertext,
		CreatedAt:        r.CreatedAt,
	}
}

type roomRow struct {
	ID              string `gorm:"primaryKey;type:text"`
	Name            string `gorm:"not null"`
	CreatorUsername string `gorm:"index;not null"`
	PasswordHash    string `gorm:"not null"`
	Salt            string `gorm:"not null"`
	WrappedKey      string `gorm:"type:text;not null"`
	CreatedAt       time.Time

	Participants []participantRow `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
	Messages     []messageRow     `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}

func (roomRow) TableName() string { return "rooms" }

func (r roomRow) model() model.Room {
	return model.Room{
		ID:              r.ID,
		Name:            r.Name,
		CreatorUsername: r.CreatorUsername,
		PasswordHash:    r.PasswordHash,
		Salt:            r.Salt,
		WrappedKey:      r.WrappedKey,
		CreatedAt:       r.CreatedAt,
	}
}

type participantRow struct {
	RoomID            string `gorm:"primaryKey;type:text"`
	UserID            string `gorm:"primaryKey;type:text"`
	Username          string `gorm:"index;not null"`
	WrappedKeyForUser string `gorm:"type:text"`
	JoinedAt          time.Time
}

func (participantRow) TableName() string { return "participants" }

func (r participantRow) model() model.Participant {
	return model.Participant{
		RoomID:            r.RoomID,
		UserID:            r.UserID,
		Username:          r.Username,
		WrappedKeyForUser: r.WrappedKeyForUser,
		JoinedAt:          r.JoinedAt,
	}
}

type messageRow struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"uniqueIndex;type:text;not null"`
	RoomID    string    `gorm:"index;type:text;not null"`
	IV        []byte    `gorm:"not null"`
	Data      []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (messageRow) TableName() string { return "messages" }

func (r messageRow) model() model.StoredMessage {
	return model.StoredMessage{
		ID:        r.ID,
		RoomID:    r.RoomID,
		IV:        r.IV,
		Data:      r.Data,
		CreatedAt: r.CreatedAt,
	}
}
