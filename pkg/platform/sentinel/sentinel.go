package sentinel

import "errors"

// Infrastructure facts returned by the cache, ledger and provider adapters.
// Services translate them into domain errors; handlers never see them.
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
)
