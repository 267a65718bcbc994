package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"charchat/pkg/provider"
)

// Select implements provider.TableStore.
func (c *Client) Select(ctx context.Context, table string, q provider.Query) ([]provider.Row, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	query := filterValues(q.Filters)
	if len(q.Columns) > 0 {
		query.Set("select", strings.Join(q.Columns, ","))
	} else {
		query.Set("select", "*")
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "desc"
			if o.Ascending {
				dir = "asc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		query.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	var rows []provider.Row
	if err := c.do(ctx, request{method: http.MethodGet, path: tablePath(table), query: query, token: token}, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []provider.Row{}
	}
	return rows, nil
}

// Insert implements provider.TableStore.
func (c *Client) Insert(ctx context.Context, table string, row provider.Row) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:  http.MethodPost,
		path:    tablePath(table),
		token:   token,
		header:  http.Header{"Prefer": {"return=minimal"}},
		payload: row,
	}, nil)
}

// Upsert implements provider.TableStore.
func (c *Client) Upsert(ctx context.Context, table string, row provider.Row, onConflict string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	query := url.Values{}
	if onConflict != "" {
		query.Set("on_conflict", onConflict)
	}
	return c.do(ctx, request{
		method:  http.MethodPost,
		path:    tablePath(table),
		query:   query,
		token:   token,
		header:  http.Header{"Prefer": {"resolution=merge-duplicates,return=minimal"}},
		payload: row,
	}, nil)
}

// Delete implements provider.TableStore.
func (c *Client) Delete(ctx context.Context, table string, filters ...provider.Filter) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   tablePath(table),
		query:  filterValues(filters),
		token:  token,
	}, nil)
}

func tablePath(table string) string {
	return "/rest/v1/" + url.PathEscape(table)
}

func filterValues(filters []provider.Filter) url.Values {
	values := url.Values{}
	for _, f := range filters {
		values.Add(f.Column, "eq."+formatFilterValue(f.Value))
	}
	return values
}

func formatFilterValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
