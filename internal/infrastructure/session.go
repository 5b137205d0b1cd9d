package infrastructure

import (
	"sync"
	"time"
)

// UserSession holds transient per-chat state. Nothing here affects quota;
// the active persona lives only as long as the process.
type UserSession struct {
	ExternalID    string
	Persona       string
	SelectingSoul bool
	IsProcessing  bool
	LastClick     time.Time
	mu            sync.Mutex
}

// SessionManager manages user sessions globally
type SessionManager struct {
	sessions       map[string]*UserSession
	defaultPersona string
	mu             sync.RWMutex
}

func NewSessionManager(defaultPersona string) *SessionManager {
	return &SessionManager{
		sessions:       make(map[string]*UserSession),
		defaultPersona: defaultPersona,
	}
}

// GetOrCreateSession returns or creates a user session
func (sm *SessionManager) GetOrCreateSession(externalID string) *UserSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[externalID]
	if !exists {
		session = &UserSession{ExternalID: externalID, Persona: sm.defaultPersona}
		sm.sessions[externalID] = session
	}
	return session
}

// CurrentPersona returns the persona the user is talking to
func (us *UserSession) CurrentPersona() string {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.Persona
}

// SwitchPersona sets the active persona and leaves selection mode
func (us *UserSession) SwitchPersona(name string) {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.Persona = name
	us.SelectingSoul = false
}

// BeginSoulSelection makes the next text message a persona name
func (us *UserSession) BeginSoulSelection() {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.SelectingSoul = true
}

// TakeSoulSelection reports whether selection mode was on and clears it
func (us *UserSession) TakeSoulSelection() bool {
	us.mu.Lock()
	defer us.mu.Unlock()
	selecting := us.SelectingSoul
	us.SelectingSoul = false
	return selecting
}

// IsAllowedClick checks if the click is allowed (debouncing)
// Returns true if allowed, false if spam/duplicate
func (us *UserSession) IsAllowedClick() bool {
	us.mu.Lock()
	defer us.mu.Unlock()

	// If already processing, deny
	if us.IsProcessing {
		return false
	}

	// If last click was within 2 seconds, deny (debounce)
	if time.Since(us.LastClick) < 2*time.Second {
		return false
	}

	us.LastClick = time.Now()
	return true
}

// StartProcessing marks session as processing
func (us *UserSession) StartProcessing() {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.IsProcessing = true
}

// FinishProcessing marks session as done
func (us *UserSession) FinishProcessing() {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.IsProcessing = false
}
