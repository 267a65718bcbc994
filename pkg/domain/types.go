package domain

// AuthUser is the signed-in identity as seen by the application.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Character is a user-authored persona. Lorebooks are stored as JSON text.
type Character struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Tagline       string     `json:"tagline"`
	Description   string     `json:"description"`
	Appearance    string     `json:"appearance"`
	Personality   string     `json:"personality"`
	FirstMessage  string     `json:"firstMessage"`
	ChatExamples  string     `json:"chatExamples"`
	AvatarURL     string     `json:"avatarUrl"`
	Scenario      string     `json:"scenario"`
	Jailbreak     string     `json:"jailbreak"`
	Style         string     `json:"style"`
	EventSequence string     `json:"eventSequence"`
	Lorebooks     []Lorebook `json:"lorebooks"`
}

// ChatSession is a conversation with one character. Messages are loaded
// separately and are never embedded by the data layer.
type ChatSession struct {
	ID                      string    `json:"id"`
	Name                    string    `json:"name"`
	Messages                []Message `json:"messages"`
	Summary                 string    `json:"summary"`
	LastSummarizedMessageID string    `json:"lastSummarizedMessageId,omitempty"`
}

type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Timestamp is unix milliseconds and the only ordering key.
	Timestamp int64 `json:"timestamp"`
}

// AppSettings is an opaque per-user settings blob.
type AppSettings map[string]any

// SettingsGlobalLorebooks is held in the settings blob by clients but is
// never persisted with it.
const SettingsGlobalLorebooks = "globalLorebooks"
