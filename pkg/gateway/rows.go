package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"charchat/pkg/domain"
	"charchat/pkg/provider"
)

func characterRow(userID string, c domain.Character) (provider.Row, error) {
	lorebooks, err := domain.EncodeLorebooks(c.Lorebooks)
	if err != nil {
		return nil, err
	}
	return provider.Row{
		"id":             c.ID,
		"user_id":        userID,
		"name":           c.Name,
		"tagline":        c.Tagline,
		"description":    c.Description,
		"appearance":     c.Appearance,
		"personality":    c.Personality,
		"first_message":  c.FirstMessage,
		"chat_examples":  c.ChatExamples,
		"avatar_url":     c.AvatarURL,
		"scenario":       c.Scenario,
		"jailbreak":      c.Jailbreak,
		"style":          c.Style,
		"event_sequence": c.EventSequence,
		"lorebooks":      lorebooks,
	}, nil
}

func characterFromRow(row provider.Row) (domain.Character, domain.LorebookDecoding) {
	books := domain.DecodeLorebooks(row["lorebooks"])
	return domain.Character{
		ID:            rowString(row, "id"),
		Name:          rowString(row, "name"),
		Tagline:       rowString(row, "tagline"),
		Description:   rowString(row, "description"),
		Appearance:    rowString(row, "appearance"),
		Personality:   rowString(row, "personality"),
		FirstMessage:  rowString(row, "first_message"),
		ChatExamples:  rowString(row, "chat_examples"),
		AvatarURL:     rowString(row, "avatar_url"),
		Scenario:      rowString(row, "scenario"),
		Jailbreak:     rowString(row, "jailbreak"),
		Style:         rowString(row, "style"),
		EventSequence: rowString(row, "event_sequence"),
		Lorebooks:     books.Lorebooks,
	}, books
}

func sessionRow(userID, characterID string, s domain.ChatSession) provider.Row {
	row := provider.Row{
		"id":           s.ID,
		"user_id":      userID,
		"character_id": characterID,
		"name":         s.Name,
		"summary":      s.Summary,
	}
	if s.LastSummarizedMessageID != "" {
		row["last_summarized_message_id"] = s.LastSummarizedMessageID
	} else {
		row["last_summarized_message_id"] = nil
	}
	return row
}

func sessionFromRow(row provider.Row) domain.ChatSession {
	return domain.ChatSession{
		ID:                      rowString(row, "id"),
		Name:                    rowString(row, "name"),
		Messages:                []domain.Message{},
		Summary:                 rowString(row, "summary"),
		LastSummarizedMessageID: rowString(row, "last_summarized_message_id"),
	}
}

func messageRow(userID, sessionID string, m domain.Message) provider.Row {
	return provider.Row{
		"id":         m.ID,
		"session_id": sessionID,
		"user_id":    userID,
		"role":       string(m.Role),
		"content":    m.Content,
		"timestamp":  m.Timestamp,
	}
}

func messageFromRow(row provider.Row) (domain.Message, error) {
	ts, err := rowInt64(row, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:        rowString(row, "id"),
		Role:      domain.Role(rowString(row, "role")),
		Content:   rowString(row, "content"),
		Timestamp: ts,
	}, nil
}

// settingsFromValue reads a settings_data column. Remote stores return a
// decoded object; text-backed stores return the JSON encoding.
func settingsFromValue(value any) (domain.AppSettings, error) {
	switch v := value.(type) {
	case nil:
		return domain.AppSettings{}, nil
	case map[string]any:
		return domain.AppSettings(v), nil
	case domain.AppSettings:
		return v, nil
	case string:
		return parseSettings([]byte(v))
	case []byte:
		return parseSettings(v)
	case json.RawMessage:
		return parseSettings(v)
	default:
		return nil, fmt.Errorf("unsupported settings value %T", value)
	}
}

func parseSettings(raw []byte) (domain.AppSettings, error) {
	if len(raw) == 0 {
		return domain.AppSettings{}, nil
	}
	settings := domain.AppSettings{}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if settings == nil {
		settings = domain.AppSettings{}
	}
	return settings, nil
}

func rowString(row provider.Row, column string) string {
	switch v := row[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func rowInt64(row provider.Row, column string) (int64, error) {
	switch v := row[column].(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", column, err)
		}
		return int64(f), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", column, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("column %s: unsupported value %T", column, v)
	}
}
