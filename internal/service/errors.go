package service

import "errors"

var (
	// ErrSelfConversation rejects resolve(A, A).
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")

	// ErrResolutionFailed means find-or-create could not complete
	// atomically. Callers retry resolution, never raw creation.
	ErrResolutionFailed = errors.New("conversation resolution failed")

	// ErrAppendFailed means the message write was rejected. The client
	// marks the local echo failed and does not auto-retry.
	ErrAppendFailed = errors.New("message append failed")

	// ErrNotAParticipant rejects appends and subscriptions by users
	// outside the conversation's participant set. Not retryable.
	ErrNotAParticipant = errors.New("user is not a participant in this conversation")

	// ErrSyncDisconnected means a realtime subscription dropped; the
	// subscriber must refetch history before trusting further pushes.
	ErrSyncDisconnected = errors.New("realtime subscription disconnected")

	// ErrConversationNotFound is returned for lookups of unknown ids.
	ErrConversationNotFound = errors.New("conversation not found")
)
