package app

import (
	"context"
	"fmt"

	"charchat/pkg/provider"
	"charchat/pkg/store"
)

// Select returns the caller's rows of table matching q.
func (a *App) Select(ctx context.Context, user provider.User, table string, q provider.Query) ([]provider.Row, error) {
	owner, err := ownerColumn(table)
	if err != nil {
		return nil, err
	}
	q.Filters = append(q.Filters, provider.Eq(owner, user.ID))
	rows, err := a.store.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []provider.Row{}
	}
	return rows, nil
}

// Insert adds rows owned by the caller.
func (a *App) Insert(ctx context.Context, user provider.User, table string, rows []provider.Row) error {
	for _, row := range rows {
		if err := a.checkWrite(ctx, user, table, row); err != nil {
			return err
		}
		if err := a.store.Insert(ctx, table, row); err != nil {
			return err
		}
	}
	return nil
}

// Upsert inserts rows owned by the caller or overwrites the caller's rows
// with the same onConflict value.
func (a *App) Upsert(ctx context.Context, user provider.User, table string, rows []provider.Row, onConflict string) error {
	if key, ok := store.KeyColumn(table); ok && onConflict != "" && onConflict != key {
		return fmt.Errorf("%w: on_conflict must be %q", ErrInvalidRow, key)
	}
	for _, row := range rows {
		if err := a.checkWrite(ctx, user, table, row); err != nil {
			return err
		}
		if err := a.store.Upsert(ctx, table, row, onConflict); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the caller's rows matching every filter. Deleted characters
// take their uploaded avatars with them.
func (a *App) Delete(ctx context.Context, user provider.User, table string, filters []provider.Filter) error {
	owner, err := ownerColumn(table)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return ErrFilterRequired
	}
	filters = append(filters, provider.Eq(owner, user.ID))

	var avatars []string
	if table == provider.TableCharacters && a.objects != nil {
		rows, err := a.store.Select(ctx, table, provider.Query{Columns: []string{"avatar_url"}, Filters: filters})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if u, _ := row["avatar_url"].(string); u != "" {
				avatars = append(avatars, u)
			}
		}
	}
	if err := a.store.Delete(ctx, table, filters...); err != nil {
		return err
	}
	a.removeObjects(ctx, user, avatars)
	return nil
}

// checkWrite requires row to name the caller as owner, to point only at
// parent rows the caller owns and, when the row already exists, to belong to
// the caller.
func (a *App) checkWrite(ctx context.Context, user provider.User, table string, row provider.Row) error {
	owner, err := ownerColumn(table)
	if err != nil {
		return err
	}
	if id, ok := row[owner].(string); !ok || id != user.ID {
		return ErrRowLevelSecurity
	}
	key, _ := store.KeyColumn(table)
	keyValue, ok := row[key]
	if !ok || keyValue == nil {
		return fmt.Errorf("%w: row is missing %q", ErrInvalidRow, key)
	}
	for _, ref := range store.References(table) {
		parentID, ok := row[ref.Column]
		if !ok {
			continue
		}
		owned, err := a.ownsRow(ctx, user, ref.Table, parentID)
		if err != nil {
			return err
		}
		if !owned {
			return ErrRowLevelSecurity
		}
	}
	if key == owner {
		return nil
	}
	existing, err := a.store.Select(ctx, table, provider.Query{
		Columns: []string{owner},
		Filters: []provider.Filter{provider.Eq(key, keyValue)},
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if id, _ := existing[0][owner].(string); id != user.ID {
			return ErrRowLevelSecurity
		}
	}
	return nil
}

// ownsRow reports whether the row of table keyed by id exists and belongs to
// user.
func (a *App) ownsRow(ctx context.Context, user provider.User, table string, id any) (bool, error) {
	if id == nil {
		return false, nil
	}
	owner, err := ownerColumn(table)
	if err != nil {
		return false, err
	}
	key, _ := store.KeyColumn(table)
	rows, err := a.store.Select(ctx, table, provider.Query{
		Columns: []string{owner},
		Filters: []provider.Filter{provider.Eq(key, id)},
		Limit:   1,
	})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	got, _ := rows[0][owner].(string)
	return got == user.ID, nil
}

func ownerColumn(table string) (string, error) {
	owner, ok := store.OwnerColumn(table)
	if !ok {
		return "", fmt.Errorf("%w: %q", provider.ErrUnknownTable, table)
	}
	return owner, nil
}
