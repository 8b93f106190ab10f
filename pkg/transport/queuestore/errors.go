package queuestore

import "errors"

// ErrNotFound indicates no row matched the requested partition/id.
var ErrNotFound = errors.New("queuestore: message not found")
