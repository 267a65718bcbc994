package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"charchat/pkg/provider"
)

// GormStore implements Store using GORM + Postgres. The schema is owned by
// the SQL migrations; run RunMigrations before serving traffic.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormTable binds a table name to its model type.
type gormTable struct {
	model   func() any
	find    func(tx *gorm.DB) ([]provider.Row, error)
	fromRow func(provider.Row) (any, error)
}

var gormTables = map[string]gormTable{
	provider.TableUserProfiles: bindTable[UserProfileModel](),
	provider.TableUserSettings: bindTable[UserSettingsModel](),
	provider.TableCharacters:   bindTable[CharacterModel](),
	provider.TableChatSessions: bindTable[ChatSessionModel](),
	provider.TableChatMessages: bindTable[ChatMessageModel](),
}

func bindTable[M any]() gormTable {
	return gormTable{
		model: func() any { return new(M) },
		find: func(tx *gorm.DB) ([]provider.Row, error) {
			var models []M
			if err := tx.Find(&models).Error; err != nil {
				return nil, err
			}
			rows := make([]provider.Row, 0, len(models))
			for i := range models {
				row, err := rowFromModel(&models[i])
				if err != nil {
					return nil, err
				}
				rows = append(rows, row)
			}
			return rows, nil
		},
		fromRow: func(row provider.Row) (any, error) {
			m := new(M)
			if err := modelFromRow(row, m); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

func (s *GormStore) table(name string) (tableSchema, gormTable, error) {
	schema, err := lookupSchema(name)
	if err != nil {
		return tableSchema{}, gormTable{}, err
	}
	binding, ok := gormTables[name]
	if !ok {
		return tableSchema{}, gormTable{}, fmt.Errorf("%w: %q", provider.ErrUnknownTable, name)
	}
	return schema, binding, nil
}

// Select returns rows of table matching q.
func (s *GormStore) Select(ctx context.Context, table string, q provider.Query) ([]provider.Row, error) {
	schema, binding, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if err := schema.checkQuery(q); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Model(binding.model())
	if len(q.Filters) > 0 {
		tx = tx.Where(filterConditions(q.Filters))
	}
	for _, o := range q.Order {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: !o.Ascending})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	rows, err := binding.find(tx)
	if err != nil {
		return nil, err
	}
	return projectRows(rows, q.Columns), nil
}

// Insert adds row to table. An existing key yields provider.ErrDuplicateKey.
func (s *GormStore) Insert(ctx context.Context, table string, row provider.Row) error {
	schema, binding, err := s.table(table)
	if err != nil {
		return err
	}
	if err := schema.checkRow(row); err != nil {
		return err
	}
	model, err := binding.fromRow(row)
	if err != nil {
		return err
	}
	return writeError(s.db.WithContext(ctx).Create(model).Error)
}

// Upsert inserts row or, when onConflict matches an existing row, overwrites
// the supplied columns.
func (s *GormStore) Upsert(ctx context.Context, table string, row provider.Row, onConflict string) error {
	schema, binding, err := s.table(table)
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
	model, err := binding.fromRow(row)
	if err != nil {
		return err
	}
	conflict := clause.OnConflict{Columns: []clause.Column{{Name: onConflict}}}
	if cols := schema.updateColumns(row, onConflict); len(cols) > 0 {
		conflict.DoUpdates = clause.AssignmentColumns(cols)
	} else {
		conflict.DoNothing = true
	}
	return writeError(s.db.WithContext(ctx).Clauses(conflict).Create(model).Error)
}

// writeError maps translated constraint errors onto the provider sentinels.
func writeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return provider.ErrDuplicateKey
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return provider.ErrForeignKey
	default:
		return err
	}
}

// Delete removes rows of table matching all filters. The schema cascades
// deletes to dependent rows.
func (s *GormStore) Delete(ctx context.Context, table string, filters ...provider.Filter) error {
	schema, binding, err := s.table(table)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return errors.New("delete requires at least one filter")
	}
	if err := schema.checkQuery(provider.Query{Filters: filters}); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where(filterConditions(filters)).Delete(binding.model()).Error
}

// CreateAccount stores a new provider login.
func (s *GormStore) CreateAccount(ctx context.Context, account Account) error {
	model := AccountModel{
		ID:           account.ID,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GetAccountByEmail looks up an account by its normalized email.
func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (Account, bool, error) {
	var m AccountModel
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Account{}, false, nil
		}
		return Account{}, false, err
	}
	return accountFromModel(m), true, nil
}

// GetAccountByID looks up an account by id.
func (s *GormStore) GetAccountByID(ctx context.Context, id string) (Account, bool, error) {
	var m AccountModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Account{}, false, nil
		}
		return Account{}, false, err
	}
	return accountFromModel(m), true, nil
}

func accountFromModel(m AccountModel) Account {
	return Account{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func filterConditions(filters []provider.Filter) map[string]any {
	conds := make(map[string]any, len(filters))
	for _, f := range filters {
		conds[f.Column] = f.Value
	}
	return conds
}

func modelFromRow(row provider.Row, model any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

func rowFromModel(model any) (provider.Row, error) {
	raw, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row provider.Row
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// projectRows keeps only columns; an empty list keeps every column.
func projectRows(rows []provider.Row, columns []string) []provider.Row {
	if len(columns) == 0 {
		return rows
	}
	for i, row := range rows {
		projected := make(provider.Row, len(columns))
		for _, column := range columns {
			if v, ok := row[column]; ok {
				projected[column] = v
			}
		}
		rows[i] = projected
	}
	return rows
}
