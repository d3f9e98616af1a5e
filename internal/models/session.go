// Package models defines the session domain types shared by the demo server.
package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a user session.
type SessionStatus string

const (
	// StatusNormal means the session is idle and accepts new operations.
	StatusNormal SessionStatus = "NORMAL"
	// StatusCreatingDatabase means a database seeding job is in flight.
	StatusCreatingDatabase SessionStatus = "CREATING_DATABASE"
	// StatusStartingLoadgen means a load generator launch job is in flight.
	StatusStartingLoadgen SessionStatus = "STARTING_LOADGEN"
)

// guiSecretPattern matches the session tokens minted for the X-AUTH cookie.
var guiSecretPattern = regexp.MustCompile(`^[0-9a-f]{20}$`)

// ValidGUISecret reports whether s is a well-formed session token.
func ValidGUISecret(s string) bool {
	return guiSecretPattern.MatchString(s)
}

// NewGUISecret mints a fresh session token: 20 lowercase hex characters.
func NewGUISecret() string {
	return uuidHex()[:20]
}

// NewDatabaseName mints a per-session database name.
func NewDatabaseName() string {
	return "db_" + uuidHex()[:16]
}

// RemovalName derives the rename target for an expired session. The old
// token stops matching any cookie the moment the session is stored under
// this name, so the visitor can start over while teardown runs.
func RemovalName(token string) string {
	return fmt.Sprintf("%s_removing_%s", token, uuidHex()[:6])
}

// uuidHex renders a random UUID as 32 lowercase hex characters.
func uuidHex() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// UserMessage is a one-line notice for the browser, serialized as the
// two-element array [text, kind]. Kind is "ok", "err" or "info".
type UserMessage struct {
	Text string
	Kind string
}

// MarshalJSON implements json.Marshaler.
func (m UserMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{m.Text, m.Kind})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *UserMessage) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 2 {
		return fmt.Errorf("user message must have 2 elements, got %d", len(arr))
	}
	m.Text, m.Kind = arr[0], arr[1]
	return nil
}

// Session holds the state of one demo visitor. Field semantics:
// DB is nil until a database is created; LoadgenPids is nil until a load
// generator launch records its first pid; ExpiresAt is nil until the first
// database creation arms the TTL, in unix seconds after that.
type Session struct {
	Status            SessionStatus `json:"status"`
	UserMessage       *UserMessage  `json:"user_message"`
	LoadgenPortOffset *int          `json:"loadgen_port_offset"`
	LoadgenPids       []int         `json:"loadgen_pids"`
	DB                *string       `json:"db"`
	ExpiresAt         *float64      `json:"expires_at"`

	// mu serializes transitions of this session. The global state lock,
	// when needed, is always acquired before it.
	mu sync.Mutex
}

// NewSession returns an idle session.
func NewSession() *Session {
	return &Session{Status: StatusNormal}
}

// Lock acquires the per-session lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Clone returns a copy of the session's persisted fields. The caller must
// hold the session lock or otherwise own the session.
func (s *Session) Clone() *Session {
	c := &Session{
		Status:            s.Status,
		UserMessage:       s.UserMessage,
		LoadgenPortOffset: s.LoadgenPortOffset,
		DB:                s.DB,
		ExpiresAt:         s.ExpiresAt,
	}
	if s.LoadgenPids != nil {
		c.LoadgenPids = append([]int{}, s.LoadgenPids...)
	}
	return c
}

// Document is the persisted application state.
type Document struct {
	NextLoadgenPortOffset int                 `json:"next_loadgen_port_offset"`
	UserSessions          map[string]*Session `json:"user_sessions"`
}

// NewDocument returns an empty state document.
func NewDocument() Document {
	return Document{UserSessions: map[string]*Session{}}
}

// ViewModel is the display-ready projection of a session returned by the
// HTTP endpoints. Every field is derived; the browser holds no state
// beyond its cookie.
type ViewModel struct {
	DBStatusOK              bool         `json:"db_status_ok"`
	DBStatusText            string       `json:"db_status_text"`
	LoadgenStatusOK         bool         `json:"loadgen_status_ok"`
	LoadgenStatusText       string       `json:"loadgen_status_text"`
	ExpiresAt               *float64     `json:"expires_at"`
	CanCreateDatabase       bool         `json:"can_create_database"`
	CanRunLoadgen           bool         `json:"can_run_loadgen"`
	CanOpenObservability    bool         `json:"can_open_observability"`
	CanOpenLoadgenUI        bool         `json:"can_open_loadgen_ui"`
	UserMessage             *UserMessage `json:"user_message"`
	DefaultGrafanaDashboard string       `json:"default_grafana_dashboard"`
	Suggestion              string       `json:"suggestion"`
	Highlight               string       `json:"highlight"`
}

// ViewModel derives the browser-facing projection. The caller must hold
// the session lock.
func (s *Session) ViewModel(defaultDashboard string) ViewModel {
	dbText := "Not created"
	switch {
	case s.Status == StatusCreatingDatabase:
		dbText = "Creating"
	case s.DB != nil:
		dbText = "Created"
	}
	dbOK := dbText == "Created"

	loadgenText := "Not running"
	switch {
	case s.Status == StatusStartingLoadgen:
		loadgenText = "Starting"
	case s.LoadgenPids != nil:
		loadgenText = "Running"
	}
	loadgenOK := loadgenText == "Running"

	normal := s.Status == StatusNormal

	suggestion, highlight := "", ""
	switch {
	case !normal:
		suggestion = "Wait"
	case s.DB == nil:
		suggestion, highlight = "Click on 'Create Database'", "db"
	case s.LoadgenPids == nil:
		suggestion, highlight = "Click on 'Run Loadgen'", "loadgen"
	case loadgenOK:
		suggestion = "Click on 'Open Loadgen UI', start the benchmark, then click on 'Open Grafana'"
		highlight = "latency"
	}

	return ViewModel{
		DBStatusOK:              dbOK,
		DBStatusText:            dbText,
		LoadgenStatusOK:         loadgenOK,
		LoadgenStatusText:       loadgenText,
		ExpiresAt:               s.ExpiresAt,
		CanCreateDatabase:       normal && s.DB == nil,
		CanRunLoadgen:           normal && s.DB != nil && s.LoadgenPids == nil,
		CanOpenObservability:    dbOK,
		CanOpenLoadgenUI:        normal && s.DB != nil && s.LoadgenPids != nil,
		UserMessage:             s.UserMessage,
		DefaultGrafanaDashboard: defaultDashboard,
		Suggestion:              suggestion,
		Highlight:               highlight,
	}
}
