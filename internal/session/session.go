// Package session caches the prompt text a browser last entered so that it
// survives page reloads and seeds the compare view.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"prompt-tester/internal/tester"
)

const DefaultTTL = 12 * time.Hour

// State is the per-browser form cache.
type State struct {
	CompareMode bool
	System      string
	Human       string
	System1     string
	Human1      string
	System2     string
	Human2      string
	Settings    tester.Settings
	LastRun     *tester.Run
	LastWarning string

	compareSaved bool
}

func newState(defaults tester.Settings) State {
	return State{Settings: defaults}
}

// SaveSingle records the single-mode fields.
func (s *State) SaveSingle(set tester.PromptSet) {
	s.System = set.System
	s.Human = set.Human
}

// SaveCompare records both compare-mode sets.
func (s *State) SaveCompare(first, second tester.PromptSet) {
	s.System1, s.Human1 = first.System, first.Human
	s.System2, s.Human2 = second.System, second.Human
	s.compareSaved = true
}

// Single returns the single-mode prompt set.
func (s State) Single() tester.PromptSet {
	return tester.PromptSet{System: s.System, Human: s.Human}
}

// Compare returns the two compare-mode prompt sets exactly as last
// submitted.
func (s State) Compare() (tester.PromptSet, tester.PromptSet) {
	return tester.PromptSet{System: s.System1, Human: s.Human1},
		tester.PromptSet{System: s.System2, Human: s.Human2}
}

// CompareSeed returns the text the compare form is shown with. Until the
// compare form has been submitted once, empty fields fall back to the text
// last entered in single mode.
func (s State) CompareSeed() (tester.PromptSet, tester.PromptSet) {
	first, second := s.Compare()
	if s.compareSaved {
		return first, second
	}
	first.System = firstNonEmpty(first.System, s.System)
	first.Human = firstNonEmpty(first.Human, s.Human)
	second.System = firstNonEmpty(second.System, s.System)
	second.Human = firstNonEmpty(second.Human, s.Human)
	return first, second
}

// AddPrompt switches to compare mode.
func (s *State) AddPrompt() {
	s.CompareMode = true
	s.LastRun = nil
	s.LastWarning = ""
}

// Clear leaves compare mode. Entered text is kept.
func (s *State) Clear() {
	s.CompareMode = false
	s.LastRun = nil
	s.LastWarning = ""
}

type entry struct {
	state    State
	lastSeen time.Time
}

// Store keeps session state in memory, keyed by session ID.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	defaults tester.Settings
	now      func() time.Time
}

// NewStore creates a store whose new sessions start with defaults.
func NewStore(ttl time.Duration, defaults tester.Settings) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	defaults.ApplyDefaults()
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		defaults: defaults,
		now:      time.Now,
	}
}

// NewID returns a fresh session ID.
func NewID() string {
	return uuid.NewString()
}

// Get returns a copy of the state for id, or a fresh state if id is unknown
// or expired.
func (s *Store) Get(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(id)
	if e == nil {
		return newState(s.defaults)
	}
	e.lastSeen = s.now()
	return e.state
}

// Update applies fn to the state for id under the store lock, creating the
// state if needed, and returns the result.
func (s *Store) Update(id string, fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(id)
	if e == nil {
		e = &entry{state: newState(s.defaults)}
		s.sessions[id] = e
	}
	fn(&e.state)
	e.lastSeen = s.now()
	return e.state
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.sessions {
		if s.expired(e) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Janitor sweeps every interval until done is closed.
func (s *Store) Janitor(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) lookup(id string) *entry {
	e, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.expired(e) {
		delete(s.sessions, id)
		return nil
	}
	return e
}

func (s *Store) expired(e *entry) bool {
	return s.now().Sub(e.lastSeen) > s.ttl
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
