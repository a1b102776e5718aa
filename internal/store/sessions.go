package store

// Session binding and hidden-set operations. A session id present in the
// binding map is "managed"; the value is either a workspace id or null for
// "managed, no workspace". The hidden set only ever holds managed ids.

// Bindings returns a copy of the session→workspace map.
func (s *Store) Bindings() map[string]*string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*string, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out
}

// IsManaged reports whether the session id is in the binding map.
func (s *Store) IsManaged(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bindings[sessionID]
	return ok
}

// WorkspaceFor returns the bound workspace id, or nil when the session is
// managed without a workspace. The second result is false for unmanaged ids.
func (s *Store) WorkspaceFor(sessionID string) (*string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.bindings[sessionID]
	return ws, ok
}

// Bind adds or updates a session binding. A nil workspaceID means managed
// with no workspace.
func (s *Store) Bind(sessionID string, workspaceID *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[sessionID] = workspaceID
	s.saveBindings()
}

// Unbind removes a session from the binding map and from the hidden set.
func (s *Store) Unbind(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, sessionID)
	s.saveBindings()
	if _, hidden := s.hidden[sessionID]; hidden {
		delete(s.hidden, sessionID)
		s.saveHidden()
	}
}

// Hidden returns the hidden session ids.
func (s *Store) Hidden() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hiddenIDs()
}

// IsHidden reports whether the session is in the hidden set.
func (s *Store) IsHidden(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hidden[sessionID]
	return ok
}

// Hide adds a managed session to the hidden set. Hiding an unmanaged or
// already hidden session is a no-op.
func (s *Store) Hide(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, managed := s.bindings[sessionID]; !managed {
		return
	}
	if _, ok := s.hidden[sessionID]; ok {
		return
	}
	s.hidden[sessionID] = struct{}{}
	s.saveHidden()
}

// Unhide removes a session from the hidden set.
func (s *Store) Unhide(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hidden[sessionID]; !ok {
		return
	}
	delete(s.hidden, sessionID)
	s.saveHidden()
}
