package billing

import (
	"errors"
	"fmt"

	"github.com/bher20/rentledger/internal/storage"
)

// ValidationError reports input that cannot be accepted. Nothing is written.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// DuplicateError reports that a record already exists for a unique key.
// Existing carries the stored record when it could be loaded.
type DuplicateError struct {
	Entity   string
	Key      string
	Existing any
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists for %s", e.Entity, e.Key)
}

func (e *DuplicateError) Unwrap() error { return storage.ErrDuplicate }

// NotFoundError reports a missing tenant, unit, property or other record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return storage.ErrNotFound }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func notFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// translateStoreErr turns storage sentinels into the typed errors above.
func translateStoreErr(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return notFound(entity, id)
	case errors.Is(err, storage.ErrDuplicate):
		return &DuplicateError{Entity: entity, Key: id}
	default:
		return err
	}
}
