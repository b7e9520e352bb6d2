package session

import (
	"sync"

	"github.com/google/uuid"
)

// ID identifies one page-load attempt. The zero ID is the "no session" sentinel.
type ID uuid.UUID

// None is the sentinel held by the manager when no load is active.
var None ID

// Manager owns the single "current session" slot
type Manager struct {
	mu         sync.RWMutex
	current    ID
	generation uint64
}
