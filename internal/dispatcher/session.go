package dispatcher

import "sync"

// SessionState tracks what the gateway knows about one conversation: the
// identity it was opened under, a per-provider conversation id (an upstream
// agent may hand back a different id than the one the session started
// with), and the session-scoped overrides carried across turns.
type SessionState struct {
	SessionID       string
	UserID          string
	ProfileID       string
	ConversationIDs map[string]string
	SessionMeta     string
	DeveloperPrompt string
}

// SessionStore is an in-memory registry of SessionState, keyed by session id.
// Safe for concurrent use; the gateway holds exactly one for its lifetime.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
}

// NewSessionStore returns an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*SessionState)}
}

// GetOrCreate returns the session's state, creating it if absent. A
// non-empty userID/profileID on an existing session overwrites the stored
// value — later turns refine identity, they never erase it with blanks.
func (s *SessionStore) GetOrCreate(sessionID, userID, profileID string) *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		state = &SessionState{
			SessionID:       sessionID,
			UserID:          userID,
			ProfileID:       profileID,
			ConversationIDs: make(map[string]string),
		}
		s.sessions[sessionID] = state
		return state
	}
	if userID != "" {
		state.UserID = userID
	}
	if profileID != "" {
		state.ProfileID = profileID
	}
	return state
}

// ConversationID returns the conversation id the given provider previously
// handed back for this session, or "" if none has been recorded.
func (s *SessionStore) ConversationID(sessionID, provider string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return ""
	}
	return state.ConversationIDs[provider]
}

// SetConversationID records the conversation id an upstream provider handed
// back. A no-op for an empty id.
func (s *SessionStore) SetConversationID(sessionID, provider, conversationID string) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &SessionState{SessionID: sessionID, ConversationIDs: make(map[string]string)}
		s.sessions[sessionID] = state
	}
	state.ConversationIDs[provider] = conversationID
}

// Metadata returns the session's stored free-form metadata string.
func (s *SessionStore) Metadata(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sessions[sessionID]; ok {
		return state.SessionMeta
	}
	return ""
}

// SetMetadata stores metadata for a session, creating it if absent. A no-op
// for an empty value.
func (s *SessionStore) SetMetadata(sessionID, metadata string) {
	if metadata == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &SessionState{SessionID: sessionID, ConversationIDs: make(map[string]string)}
		s.sessions[sessionID] = state
	}
	state.SessionMeta = metadata
}

// DeveloperPrompt returns the session's stored developer/persona prompt.
func (s *SessionStore) DeveloperPrompt(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sessions[sessionID]; ok {
		return state.DeveloperPrompt
	}
	return ""
}

// SetDeveloperPrompt stores a developer/persona prompt for a session,
// creating it if absent. A no-op for an empty value.
func (s *SessionStore) SetDeveloperPrompt(sessionID, prompt string) {
	if prompt == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &SessionState{SessionID: sessionID, ConversationIDs: make(map[string]string)}
		s.sessions[sessionID] = state
	}
	state.DeveloperPrompt = prompt
}
