package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"charchat/pkg/provider"
)

var errBadQuery = errors.New("invalid query")

// reserved query parameters that are not column filters.
var reservedParams = []string{"select", "order", "limit", "on_conflict"}

// parseQuery reads select, order, limit and col=eq.value filters.
func parseQuery(values url.Values) (provider.Query, error) {
	var q provider.Query
	if sel := strings.TrimSpace(values.Get("select")); sel != "" && sel != "*" {
		for _, col := range strings.Split(sel, ",") {
			if col = strings.TrimSpace(col); col != "" {
				q.Columns = append(q.Columns, col)
			}
		}
	}
	if order := strings.TrimSpace(values.Get("order")); order != "" {
		for _, part := range strings.Split(order, ",") {
			o, err := parseOrder(strings.TrimSpace(part))
			if err != nil {
				return provider.Query{}, err
			}
			q.Order = append(q.Order, o)
		}
	}
	if limit := strings.TrimSpace(values.Get("limit")); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return provider.Query{}, fmt.Errorf("%w: limit must be a non-negative integer", errBadQuery)
		}
		q.Limit = n
	}
	filters, err := parseFilters(values)
	if err != nil {
		return provider.Query{}, err
	}
	q.Filters = filters
	return q, nil
}

func parseOrder(part string) (provider.Order, error) {
	column, dir, found := strings.Cut(part, ".")
	if column == "" {
		return provider.Order{}, fmt.Errorf("%w: empty order column", errBadQuery)
	}
	if !found {
		return provider.Order{Column: column, Ascending: true}, nil
	}
	switch dir {
	case "asc":
		return provider.Order{Column: column, Ascending: true}, nil
	case "desc":
		return provider.Order{Column: column}, nil
	default:
		return provider.Order{}, fmt.Errorf("%w: unknown order direction %q", errBadQuery, dir)
	}
}

// parseFilters accepts only equality filters. Keys are sorted so the
// resulting query is stable.
func parseFilters(values url.Values) ([]provider.Filter, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		if !slices.Contains(reservedParams, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	filters := make([]provider.Filter, 0, len(keys))
	for _, key := range keys {
		for _, raw := range values[key] {
			value, ok := strings.CutPrefix(raw, "eq.")
			if !ok {
				return nil, fmt.Errorf("%w: unsupported filter on %q", errBadQuery, key)
			}
			filters = append(filters, provider.Eq(key, value))
		}
	}
	return filters, nil
}

// decodeRows reads a JSON object or array of objects.
func decodeRows(r io.Reader) ([]provider.Row, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body", errBadQuery)
	}
	raw = bytes.TrimSpace(raw)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if len(raw) > 0 && raw[0] == '[' {
		var rows []provider.Row
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("%w: body must be an array of objects", errBadQuery)
		}
		return rows, nil
	}
	var row provider.Row
	if err := dec.Decode(&row); err != nil || row == nil {
		return nil, fmt.Errorf("%w: body must be an object", errBadQuery)
	}
	return []provider.Row{row}, nil
}

// preferMerge reports whether a Prefer header asks for upsert semantics.
func preferMerge(header string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.TrimSpace(part) == "resolution=merge-duplicates" {
			return true
		}
	}
	return false
}
