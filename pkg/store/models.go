package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. JSON tags match column names so rows
// convert to and from models without a mapping table.

// AccountModel is a provider login.
type AccountModel struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (AccountModel) TableName() string { return "auth_users" }

type UserProfileModel struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserProfileModel) TableName() string { return "user_profiles" }

type UserSettingsModel struct {
	UserID       string         `gorm:"primaryKey" json:"user_id"`
	SettingsData datatypes.JSON `gorm:"type:jsonb" json:"settings_data"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (UserSettingsModel) TableName() string { return "user_settings" }

type CharacterModel struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	UserID        string    `gorm:"not null;index" json:"user_id"`
	Name          string    `json:"name"`
	Tagline       string    `json:"tagline"`
	Description   string    `json:"description"`
	Appearance    string    `json:"appearance"`
	Personality   string    `json:"personality"`
	FirstMessage  string    `json:"first_message"`
	ChatExamples  string    `json:"chat_examples"`
	AvatarURL     string    `gorm:"column:avatar_url" json:"avatar_url"`
	Scenario      string    `json:"scenario"`
	Jailbreak     string    `json:"jailbreak"`
	Style         string    `json:"style"`
	EventSequence string    `json:"event_sequence"`
	Lorebooks     string    `gorm:"type:text" json:"lorebooks"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (CharacterModel) TableName() string { return "characters" }

type ChatSessionModel struct {
	ID                      string    `gorm:"primaryKey" json:"id"`
	UserID                  string    `gorm:"not null;index" json:"user_id"`
	CharacterID             string    `gorm:"not null;index" json:"character_id"`
	Name                    string    `json:"name"`
	Summary                 string    `json:"summary"`
	LastSummarizedMessageID string    `gorm:"column:last_summarized_message_id" json:"last_summarized_message_id"`
	CreatedAt               time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func (ChatSessionModel) TableName() string { return "chat_sessions" }

type ChatMessageModel struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"not null;index" json:"session_id"`
	UserID    string    `gorm:"not null" json:"user_id"`
	Role      string    `gorm:"not null" json:"role"`
	Content   string    `json:"content"`
	Timestamp int64     `gorm:"not null" json:"timestamp"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ChatMessageModel) TableName() string { return "chat_messages" }
