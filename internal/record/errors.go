package record

import "errors"

var (
	// ErrNotFound is returned when an operation addresses a key with no node.
	ErrNotFound = errors.New("object with key does not exist")

	// ErrAlreadyExists is returned when a manual-key create collides.
	ErrAlreadyExists = errors.New("object with key already exists")

	// ErrTransactionAborted is returned when the datastore did not commit a
	// transaction.
	ErrTransactionAborted = errors.New("transaction not committed")

	// ErrNoKey is returned by remote operations on a record that has never
	// been persisted.
	ErrNoKey = errors.New("record has no key")

	// ErrNotNumber and ErrNotList are returned by the convenience
	// transactions when the stored field has an incompatible type.
	ErrNotNumber = errors.New("field is not a number")
	ErrNotList   = errors.New("field is not a list")
)
