package store

import (
	"fmt"
	"slices"

	"charchat/pkg/provider"
)

// tableSchema describes one application table.
type tableSchema struct {
	key string
	// owner holds the id of the user a row belongs to.
	owner   string
	columns []string
	// stamps are maintained by the store, never by callers.
	createdAt bool
	updatedAt bool
}

// foreignKey deletes child rows together with their parent.
type foreignKey struct {
	table       string
	column      string
	parentTable string
}

var schemas = map[string]tableSchema{
	provider.TableUserProfiles: {
		key:       "id",
		owner:     "id",
		columns:   []string{"id", "email", "created_at", "updated_at"},
		createdAt: true,
		updatedAt: true,
	},
	provider.TableUserSettings: {
		key:       "user_id",
		owner:     "user_id",
		columns:   []string{"user_id", "settings_data", "created_at", "updated_at"},
		createdAt: true,
		updatedAt: true,
	},
	provider.TableCharacters: {
		key:   "id",
		owner: "user_id",
		columns: []string{
			"id", "user_id", "name", "tagline", "description", "appearance", "personality",
			"first_message", "chat_examples", "avatar_url", "scenario", "jailbreak", "style",
			"event_sequence", "lorebooks", "created_at", "updated_at",
		},
		createdAt: true,
		updatedAt: true,
	},
	provider.TableChatSessions: {
		key:   "id",
		owner: "user_id",
		columns: []string{
			"id", "user_id", "character_id", "name", "summary", "last_summarized_message_id",
			"created_at", "updated_at",
		},
		createdAt: true,
		updatedAt: true,
	},
	provider.TableChatMessages: {
		key:       "id",
		owner:     "user_id",
		columns:   []string{"id", "session_id", "user_id", "role", "content", "timestamp", "created_at"},
		createdAt: true,
	},
}

var cascades = []foreignKey{
	{table: provider.TableChatSessions, column: "character_id", parentTable: provider.TableCharacters},
	{table: provider.TableChatMessages, column: "session_id", parentTable: provider.TableChatSessions},
}

func lookupSchema(table string) (tableSchema, error) {
	schema, ok := schemas[table]
	if !ok {
		return tableSchema{}, fmt.Errorf("%w: %q", provider.ErrUnknownTable, table)
	}
	return schema, nil
}

func (t tableSchema) hasColumn(column string) bool {
	return slices.Contains(t.columns, column)
}

func (t tableSchema) checkColumns(columns ...string) error {
	for _, column := range columns {
		if !t.hasColumn(column) {
			return fmt.Errorf("%w: %q", provider.ErrUnknownColumn, column)
		}
	}
	return nil
}

func (t tableSchema) checkQuery(q provider.Query) error {
	if err := t.checkColumns(q.Columns...); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if err := t.checkColumns(f.Column); err != nil {
			return err
		}
	}
	for _, o := range q.Order {
		if err := t.checkColumns(o.Column); err != nil {
			return err
		}
	}
	return nil
}

func (t tableSchema) checkRow(row provider.Row) error {
	for column := range row {
		if !t.hasColumn(column) {
			return fmt.Errorf("%w: %q", provider.ErrUnknownColumn, column)
		}
	}
	if _, ok := row[t.key]; !ok {
		return fmt.Errorf("row is missing key column %q", t.key)
	}
	return nil
}

// updateColumns lists the columns an upsert overwrites on conflict: every
// supplied column except the conflict target and the creation stamp.
func (t tableSchema) updateColumns(row provider.Row, onConflict string) []string {
	cols := make([]string, 0, len(row)+1)
	for _, column := range t.columns {
		if column == onConflict || column == "created_at" {
			continue
		}
		if column == "updated_at" && t.updatedAt {
			cols = append(cols, column)
			continue
		}
		if _, ok := row[column]; ok {
			cols = append(cols, column)
		}
	}
	return cols
}

// OwnerColumn returns the column that holds the owning user id of table.
func OwnerColumn(table string) (string, bool) {
	schema, ok := schemas[table]
	if !ok {
		return "", false
	}
	return schema.owner, true
}

// Reference is a column that must name an existing row of Table.
type Reference struct {
	Column string
	Table  string
}

// References lists the parent rows a row of table points to.
func References(table string) []Reference {
	var refs []Reference
	for _, fk := range cascades {
		if fk.table == table {
			refs = append(refs, Reference{Column: fk.column, Table: fk.parentTable})
		}
	}
	return refs
}

// KeyColumn returns the primary key column of table.
func KeyColumn(table string) (string, bool) {
	schema, ok := schemas[table]
	if !ok {
		return "", false
	}
	return schema.key, true
}
