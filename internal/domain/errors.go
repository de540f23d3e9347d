package domain

import (
	"errors"
	"fmt"
)

// ErrUnparseableDate marks a date field that is not in DD.MM.YYYY form.
var ErrUnparseableDate = errors.New("unparseable date")

// FetchError reports a listing page that could not be retrieved.
type FetchError struct {
	Page PageKey
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %s: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError reports a record the repository rejected or could not reach.
type PersistenceError struct {
	Key IdentityKey
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
