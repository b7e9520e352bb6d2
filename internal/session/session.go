package session

import "github.com/google/uuid"

func (id ID) String() string {
	if id == None {
		return "none"
	}
	return uuid.UUID(id).String()
}

// Short returns the first eight hex digits, for logs.
func (id ID) Short() string {
	if id == None {
		return "none"
	}
	return id.String()[:8]
}

func NewManager() *Manager {
	return &Manager{}
}

// Start mints a new session and makes it current. Every earlier session
// becomes permanently invalid.
func (m *Manager) Start() ID {
	id := ID(uuid.New())

	m.mu.Lock()
	m.current = id
	m.generation++
	m.mu.Unlock()

	return id
}

// IsValid reports whether id is the current session. None is never valid.
func (m *Manager) IsValid(id ID) bool {
	if id == None {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == id
}

// InvalidateAll clears the slot without starting a replacement.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	m.current = None
	m.mu.Unlock()
}

func (m *Manager) Current() ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Generation counts the sessions started so far.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}
