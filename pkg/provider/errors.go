package provider

import "errors"

// Error is a failure reported by the provider itself, as opposed to a
// transport failure. Message is meant to be shown to end users.
type Error struct {
	Status  int
	Message string
	Code    string
}

func (e *Error) Error() string {
	return e.Message
}

// Error codes shared by the provider service and its clients.
const (
	CodeValidation       = "validation_failed"
	CodeUserExists       = "user_already_exists"
	CodeInvalidGrant     = "invalid_grant"
	CodeUnauthorized     = "unauthorized"
	CodeRowLevelSecurity = "row_level_security"
	CodeUnknownTable     = "unknown_table"
	CodeDuplicateKey     = "duplicate_key"
	CodeForeignKey       = "foreign_key_violation"
	CodeNotFound         = "not_found"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

var (
	// ErrDuplicateKey is returned by stores when an insert collides with an
	// existing primary key.
	ErrDuplicateKey = errors.New("duplicate key value violates unique constraint")
	// ErrForeignKey is returned when a row references a parent row that does
	// not exist.
	ErrForeignKey = errors.New("insert or update violates foreign key constraint")
	// ErrUnknownTable is returned for tables outside the schema.
	ErrUnknownTable = errors.New("relation does not exist")
	// ErrUnknownColumn is returned for columns outside a table's schema.
	ErrUnknownColumn = errors.New("column does not exist")
)
