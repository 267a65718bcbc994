package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Lorebook is a structured reference document attached to a character.
// Members this type does not model are kept in Extra and written back as is.
type Lorebook struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	Entries     []LorebookEntry `json:"entries"`

	Extra map[string]json.RawMessage `json:"-"`
}

type LorebookEntry struct {
	ID      string   `json:"id"`
	Keys    []string `json:"keys"`
	Content string   `json:"content"`
	Enabled bool     `json:"enabled"`

	Extra map[string]json.RawMessage `json:"-"`
}

type lorebookFields Lorebook

type lorebookEntryFields LorebookEntry

var (
	lorebookKeys      = []string{"id", "name", "description", "enabled", "entries"}
	lorebookEntryKeys = []string{"id", "keys", "content", "enabled"}
)

func (b Lorebook) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(lorebookFields(b))
	if err != nil {
		return nil, err
	}
	return withExtra(raw, b.Extra)
}

func (b *Lorebook) UnmarshalJSON(data []byte) error {
	var fields lorebookFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := extraMembers(data, lorebookKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	*b = Lorebook(fields)
	return nil
}

func (e LorebookEntry) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(lorebookEntryFields(e))
	if err != nil {
		return nil, err
	}
	return withExtra(raw, e.Extra)
}

func (e *LorebookEntry) UnmarshalJSON(data []byte) error {
	var fields lorebookEntryFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := extraMembers(data, lorebookEntryKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	*e = LorebookEntry(fields)
	return nil
}

// extraMembers returns the members of the JSON object data not named in
// known, or nil when there are none.
func extraMembers(data []byte, known []string) (map[string]json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	for _, key := range known {
		delete(members, key)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return members, nil
}

// withExtra adds extra members to the encoded object raw. Modeled fields win
// over an extra member of the same name.
func withExtra(raw []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return raw, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, ok := members[key]; !ok {
			members[key] = value
		}
	}
	return json.Marshal(members)
}

// LorebookForm tags how a stored lorebook value was read back.
type LorebookForm int

const (
	// LorebooksAbsent means the column was null or empty.
	LorebooksAbsent LorebookForm = iota
	// LorebooksStructured means the store handed back an already decoded value.
	LorebooksStructured
	// LorebooksEncoded means the store handed back JSON text that parsed.
	LorebooksEncoded
	// LorebooksUnreadable means the stored text could not be parsed.
	LorebooksUnreadable
)

func (f LorebookForm) String() string {
	switch f {
	case LorebooksAbsent:
		return "absent"
	case LorebooksStructured:
		return "structured"
	case LorebooksEncoded:
		return "encoded"
	case LorebooksUnreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("LorebookForm(%d)", int(f))
	}
}

// LorebookDecoding is the result of DecodeLorebooks. Lorebooks is never nil.
type LorebookDecoding struct {
	Lorebooks []Lorebook
	Form      LorebookForm
	// Err is set only for LorebooksUnreadable.
	Err error
}

// EncodeLorebooks renders lorebooks as the text stored in the characters table.
// A nil list is stored as an empty JSON array.
func EncodeLorebooks(books []Lorebook) (string, error) {
	if books == nil {
		books = []Lorebook{}
	}
	raw, err := json.Marshal(books)
	if err != nil {
		return "", fmt.Errorf("encode lorebooks: %w", err)
	}
	return string(raw), nil
}

// DecodeLorebooks reads a stored lorebook column. Stores that understand JSON
// return the value already decoded; text columns return the encoded string.
func DecodeLorebooks(value any) LorebookDecoding {
	switch v := value.(type) {
	case nil:
		return LorebookDecoding{Lorebooks: []Lorebook{}, Form: LorebooksAbsent}
	case []Lorebook:
		if v == nil {
			v = []Lorebook{}
		}
		return LorebookDecoding{Lorebooks: v, Form: LorebooksStructured}
	case string:
		return decodeLorebookText([]byte(v))
	case []byte:
		return decodeLorebookText(v)
	case json.RawMessage:
		return decodeLorebookText(v)
	case []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return unreadableLorebooks(err)
		}
		books, err := parseLorebooks(raw)
		if err != nil {
			return unreadableLorebooks(err)
		}
		return LorebookDecoding{Lorebooks: books, Form: LorebooksStructured}
	default:
		return unreadableLorebooks(fmt.Errorf("unsupported lorebook value %T", value))
	}
}

func decodeLorebookText(raw []byte) LorebookDecoding {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return LorebookDecoding{Lorebooks: []Lorebook{}, Form: LorebooksAbsent}
	}
	books, err := parseLorebooks([]byte(text))
	if err != nil {
		return unreadableLorebooks(err)
	}
	return LorebookDecoding{Lorebooks: books, Form: LorebooksEncoded}
}

func parseLorebooks(raw []byte) ([]Lorebook, error) {
	var books []Lorebook
	if err := json.Unmarshal(raw, &books); err != nil {
		return nil, fmt.Errorf("parse lorebooks: %w", err)
	}
	if books == nil {
		books = []Lorebook{}
	}
	return books, nil
}

func unreadableLorebooks(err error) LorebookDecoding {
	return LorebookDecoding{Lorebooks: []Lorebook{}, Form: LorebooksUnreadable, Err: err}
}
