package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"charchat/pkg/provider"
)

// MemoryStore is an in-memory Store for development and tests. It mirrors
// the Postgres schema, including cascading deletes.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	seq      int64
	tables   map[string]map[string]*memoryRow
	accounts map[string]Account
	emails   map[string]string
}

type memoryRow struct {
	seq int64
	row provider.Row
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	tables := make(map[string]map[string]*memoryRow, len(schemas))
	for name := range schemas {
		tables[name] = make(map[string]*memoryRow)
	}
	return &MemoryStore{
		now:      time.Now,
		tables:   tables,
		accounts: make(map[string]Account),
		emails:   make(map[string]string),
	}
}

// Select returns copies of the rows of table matching q.
func (s *MemoryStore) Select(_ context.Context, table string, q provider.Query) ([]provider.Row, error) {
	schema, err := lookupSchema(table)
	if err != nil {
		return nil, err
	}
	if err := schema.checkQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]memoryRow, 0)
	for _, entry := range s.tables[table] {
		if matchesFilters(entry.row, q.Filters) {
			matched = append(matched, memoryRow{seq: entry.seq, row: cloneRow(entry.row)})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b memoryRow) int {
		for _, o := range q.Order {
			c := compareValues(a.row[o.Column], b.row[o.Column])
			if c == 0 {
				continue
			}
			if !o.Ascending {
				c = -c
			}
			return c
		}
		// Ties keep write order, reversed when the primary order is descending.
		c := compareInt64(a.seq, b.seq)
		if len(q.Order) > 0 && !q.Order[0].Ascending {
			c = -c
		}
		return c
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	rows := make([]provider.Row, 0, len(matched))
	for _, entry := range matched {
		rows = append(rows, entry.row)
	}
	return projectRows(rows, q.Columns), nil
}

// Insert adds row to table. An existing key yields provider.ErrDuplicateKey.
func (s *MemoryStore) Insert(_ context.Context, table string, row provider.Row) error {
	schema, err := lookupSchema(table)
	if err != nil {
		return err
	}
	if err := schema.checkRow(row); err != nil {
		return err
	}
	key := keyString(row[schema.key])

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tables[table][key]; exists {
		return provider.ErrDuplicateKey
	}
	if err := s.checkParentsLocked(table, row, true); err != nil {
		return err
	}
	s.insertLocked(table, schema, key, row)
	return nil
}

// Upsert inserts row or overwrites the supplied columns of the row whose key
// matches.
func (s *MemoryStore) Upsert(_ context.Context, table string, row provider.Row, onConflict string) error {
	schema, err := lookupSchema(table)
	if err != nil {
		return err
	}
	if err := schema.checkRow(row); err != nil {
		return err
	}
	if onConflict == "" {
		onConflict = schema.key
	}
	if onConflict != schema.key {
		return fmt.Errorf("on_conflict must be the key column %q", schema.key)
	}
	key := keyString(row[schema.key])

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tables[table][key]
	if err := s.checkParentsLocked(table, row, !ok); err != nil {
		return err
	}
	if !ok {
		s.insertLocked(table, schema, key, row)
		return nil
	}
	now := s.now().UTC()
	for _, column := range schema.updateColumns(row, onConflict) {
		if column == "updated_at" {
			existing.row[column] = now
			continue
		}
		existing.row[column] = cloneValue(row[column])
	}
	return nil
}

// Delete removes rows of table matching all filters and every row that
// depends on them.
func (s *MemoryStore) Delete(_ context.Context, table string, filters ...provider.Filter) error {
	schema, err := lookupSchema(table)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return errors.New("delete requires at least one filter")
	}
	if err := schema.checkQuery(provider.Query{Filters: filters}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(table, func(row provider.Row) bool {
		return matchesFilters(row, filters)
	})
	return nil
}

// checkParentsLocked fails with provider.ErrForeignKey when row names a
// parent that does not exist. A new row must name every parent.
func (s *MemoryStore) checkParentsLocked(table string, row provider.Row, isNew bool) error {
	for _, fk := range cascades {
		if fk.table != table {
			continue
		}
		value, ok := row[fk.column]
		if !ok && !isNew {
			continue
		}
		if value == nil {
			return fmt.Errorf("%w: %s.%s is required", provider.ErrForeignKey, table, fk.column)
		}
		if _, exists := s.tables[fk.parentTable][keyString(value)]; !exists {
			return fmt.Errorf("%w: %s.%s=%v has no row in %s", provider.ErrForeignKey, table, fk.column, value, fk.parentTable)
		}
	}
	return nil
}

func (s *MemoryStore) insertLocked(table string, schema tableSchema, key string, row provider.Row) {
	now := s.now().UTC()
	stored := cloneRow(row)
	if schema.createdAt {
		if _, ok := stored["created_at"]; !ok {
			stored["created_at"] = now
		}
	}
	if schema.updatedAt {
		stored["updated_at"] = now
	}
	s.seq++
	s.tables[table][key] = &memoryRow{seq: s.seq, row: stored}
}

func (s *MemoryStore) deleteLocked(table string, match func(provider.Row) bool) {
	schema := schemas[table]
	deleted := make(map[string]struct{})
	for key, entry := range s.tables[table] {
		if match(entry.row) {
			deleted[keyString(entry.row[schema.key])] = struct{}{}
			delete(s.tables[table], key)
		}
	}
	if len(deleted) == 0 {
		return
	}
	for _, fk := range cascades {
		if fk.parentTable != table {
			continue
		}
		column := fk.column
		s.deleteLocked(fk.table, func(row provider.Row) bool {
			_, ok := deleted[keyString(row[column])]
			return ok
		})
	}
}

// CreateAccount stores a new provider login.
func (s *MemoryStore) CreateAccount(_ context.Context, account Account) error {
	email := strings.ToLower(strings.TrimSpace(account.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emails[email]; exists {
		return ErrEmailTaken
	}
	if _, exists := s.accounts[account.ID]; exists {
		return provider.ErrDuplicateKey
	}
	now := s.now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}
	account.Email = email
	s.accounts[account.ID] = account
	s.emails[email] = account.ID
	return nil
}

// GetAccountByEmail looks up an account by its normalized email.
func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Account{}, false, nil
	}
	account, ok := s.accounts[id]
	return account, ok, nil
}

// GetAccountByID looks up an account by id.
func (s *MemoryStore) GetAccountByID(_ context.Context, id string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	return account, ok, nil
}

func matchesFilters(row provider.Row, filters []provider.Filter) bool {
	for _, f := range filters {
		if !valuesEqual(row[f.Column], f.Value) {
			return false
		}
	}
	return true
}

func keyString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return keyString(a) == keyString(b)
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(keyString(a), keyString(b))
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}

func cloneRow(row provider.Row) provider.Row {
	out := make(provider.Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case json.RawMessage:
		return slices.Clone(val)
	}
	return v
}
