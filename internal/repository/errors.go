package repository

import "errors"

var (
	// ErrDuplicateConversation indicates another writer created the conversation for the same pair first.
	ErrDuplicateConversation = errors.New("conversation for participant pair already exists")
	// ErrStatusConflict indicates a conditional status transition matched no row.
	ErrStatusConflict = errors.New("status changed concurrently or transition not allowed")
)
