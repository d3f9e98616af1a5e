package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string   { return &s }
func intptr(i int) *int         { return &i }
func f64ptr(f float64) *float64 { return &f }

func TestValidGUISecret(t *testing.T) {
	assert.True(t, ValidGUISecret("0123456789abcdef0123"))
	assert.False(t, ValidGUISecret(""))
	assert.False(t, ValidGUISecret("0123456789abcdef012"))    // too short
	assert.False(t, ValidGUISecret("0123456789abcdef01234")) // too long
	assert.False(t, ValidGUISecret("0123456789ABCDEF0123"))  // uppercase
	assert.False(t, ValidGUISecret("0123456789abcdef012g"))  // non-hex
	assert.False(t, ValidGUISecret("0123456789abcdef0123_removing_0a0b0c"))
}

func TestTokenGenerators(t *testing.T) {
	secret := NewGUISecret()
	assert.True(t, ValidGUISecret(secret))
	assert.NotEqual(t, secret, NewGUISecret())

	db := NewDatabaseName()
	assert.Regexp(t, `^db_[0-9a-f]{16}$`, db)

	rm := RemovalName("0123456789abcdef0123")
	assert.Regexp(t, `^0123456789abcdef0123_removing_[0-9a-f]{6}$`, rm)
	assert.False(t, ValidGUISecret(rm))
}

func TestUserMessage_JSON(t *testing.T) {
	data, err := json.Marshal(UserMessage{Text: "Database created successfully", Kind: "ok"})
	require.NoError(t, err)
	assert.Equal(t, `["Database created successfully","ok"]`, string(data))

	var m UserMessage
	require.NoError(t, json.Unmarshal([]byte(`["Loadgen started","ok"]`), &m))
	assert.Equal(t, "Loadgen started", m.Text)
	assert.Equal(t, "ok", m.Kind)

	assert.Error(t, json.Unmarshal([]byte(`["only one"]`), &m))
	assert.Error(t, json.Unmarshal([]byte(`"not an array"`), &m))
}

func TestSession_JSONRoundTrip(t *testing.T) {
	s := NewSession()
	s.Status = StatusStartingLoadgen
	s.DB = strptr("db_0123456789abcdef")
	s.LoadgenPortOffset = intptr(42)
	s.LoadgenPids = []int{100, 200}
	s.ExpiresAt = f64ptr(1700000000.25)
	s.UserMessage = &UserMessage{Text: "x", Kind: "info"}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back Session
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StatusStartingLoadgen, back.Status)
	assert.Equal(t, "db_0123456789abcdef", *back.DB)
	assert.Equal(t, 42, *back.LoadgenPortOffset)
	assert.Equal(t, []int{100, 200}, back.LoadgenPids)
	assert.Equal(t, 1700000000.25, *back.ExpiresAt)
	assert.Equal(t, "x", back.UserMessage.Text)
}

func TestSession_EmptyFieldsMarshalAsNull(t *testing.T) {
	data, err := json.Marshal(NewSession())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "NORMAL", raw["status"])
	assert.Nil(t, raw["user_message"])
	assert.Nil(t, raw["loadgen_port_offset"])
	assert.Nil(t, raw["loadgen_pids"])
	assert.Nil(t, raw["db"])
	assert.Nil(t, raw["expires_at"])
}

func TestSession_NilVersusEmptyPidsSurvivesJSON(t *testing.T) {
	var back Session
	require.NoError(t, json.Unmarshal([]byte(`{"status":"NORMAL","loadgen_pids":[]}`), &back))
	require.NotNil(t, back.LoadgenPids)
	assert.Empty(t, back.LoadgenPids)

	require.NoError(t, json.Unmarshal([]byte(`{"status":"NORMAL","loadgen_pids":null}`), &back))
	assert.Nil(t, back.LoadgenPids)
}

func TestSession_Clone(t *testing.T) {
	s := NewSession()
	s.DB = strptr("db_aaaaaaaaaaaaaaaa")
	s.LoadgenPids = []int{1, 2}

	c := s.Clone()
	c.LoadgenPids = append(c.LoadgenPids, 3)
	assert.Equal(t, []int{1, 2}, s.LoadgenPids)
	assert.Equal(t, []int{1, 2, 3}, c.LoadgenPids)
}

func TestViewModel_FreshSession(t *testing.T) {
	vm := NewSession().ViewModel("rdrs2_overview")

	assert.Equal(t, "Not created", vm.DBStatusText)
	assert.False(t, vm.DBStatusOK)
	assert.Equal(t, "Not running", vm.LoadgenStatusText)
	assert.False(t, vm.LoadgenStatusOK)
	assert.True(t, vm.CanCreateDatabase)
	assert.False(t, vm.CanRunLoadgen)
	assert.False(t, vm.CanOpenObservability)
	assert.False(t, vm.CanOpenLoadgenUI)
	assert.Equal(t, "Click on 'Create Database'", vm.Suggestion)
	assert.Equal(t, "db", vm.Highlight)
	assert.Equal(t, "rdrs2_overview", vm.DefaultGrafanaDashboard)
}

func TestViewModel_CreatingDatabase(t *testing.T) {
	s := NewSession()
	s.Status = StatusCreatingDatabase
	s.DB = strptr("db_0123456789abcdef")

	vm := s.ViewModel("rdrs2_overview")
	assert.Equal(t, "Creating", vm.DBStatusText)
	assert.False(t, vm.DBStatusOK)
	assert.False(t, vm.CanCreateDatabase)
	assert.False(t, vm.CanRunLoadgen)
	assert.False(t, vm.CanOpenObservability)
	assert.Equal(t, "Wait", vm.Suggestion)
	assert.Equal(t, "", vm.Highlight)
}

func TestViewModel_DatabaseCreated(t *testing.T) {
	s := NewSession()
	s.DB = strptr("db_0123456789abcdef")

	vm := s.ViewModel("rdrs2_overview")
	assert.Equal(t, "Created", vm.DBStatusText)
	assert.True(t, vm.DBStatusOK)
	assert.False(t, vm.CanCreateDatabase)
	assert.True(t, vm.CanRunLoadgen)
	assert.True(t, vm.CanOpenObservability)
	assert.False(t, vm.CanOpenLoadgenUI)
	assert.Equal(t, "Click on 'Run Loadgen'", vm.Suggestion)
	assert.Equal(t, "loadgen", vm.Highlight)
}

func TestViewModel_StartingLoadgen(t *testing.T) {
	s := NewSession()
	s.Status = StatusStartingLoadgen
	s.DB = strptr("db_0123456789abcdef")
	s.LoadgenPortOffset = intptr(0)

	vm := s.ViewModel("rdrs2_overview")
	assert.Equal(t, "Created", vm.DBStatusText)
	assert.Equal(t, "Starting", vm.LoadgenStatusText)
	assert.False(t, vm.LoadgenStatusOK)
	assert.False(t, vm.CanRunLoadgen)
	assert.False(t, vm.CanOpenLoadgenUI)
	assert.True(t, vm.CanOpenObservability)
	assert.Equal(t, "Wait", vm.Suggestion)
}

func TestViewModel_LoadgenRunning(t *testing.T) {
	s := NewSession()
	s.DB = strptr("db_0123456789abcdef")
	s.LoadgenPortOffset = intptr(0)
	s.LoadgenPids = []int{100, 200, 300}

	vm := s.ViewModel("rdrs2_overview")
	assert.Equal(t, "Running", vm.LoadgenStatusText)
	assert.True(t, vm.LoadgenStatusOK)
	assert.False(t, vm.CanRunLoadgen)
	assert.True(t, vm.CanOpenLoadgenUI)
	assert.True(t, vm.CanOpenObservability)
	assert.Equal(t,
		"Click on 'Open Loadgen UI', start the benchmark, then click on 'Open Grafana'",
		vm.Suggestion)
	assert.Equal(t, "latency", vm.Highlight)
}

// An empty (non-nil) pid list marks a session whose launch was undone; it
// blocks another run-loadgen but does not report "Not running".
func TestViewModel_EmptyPidsBlocksRerun(t *testing.T) {
	s := NewSession()
	s.DB = strptr("db_0123456789abcdef")
	s.LoadgenPids = []int{}

	vm := s.ViewModel("rdrs2_overview")
	assert.False(t, vm.CanRunLoadgen)
	assert.Equal(t, "Running", vm.LoadgenStatusText)
}

// Derivation must not mutate the session.
func TestViewModel_Pure(t *testing.T) {
	s := NewSession()
	s.DB = strptr("db_0123456789abcdef")
	s.LoadgenPids = []int{1}
	s.ExpiresAt = f64ptr(100)

	before, err := json.Marshal(s)
	require.NoError(t, err)

	vm1 := s.ViewModel("rdrs2_overview")
	vm2 := s.ViewModel("rdrs2_overview")
	assert.Equal(t, vm1, vm2)

	after, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestViewModel_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(NewSession().ViewModel("rdrs2_overview"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"db_status_ok", "db_status_text",
		"loadgen_status_ok", "loadgen_status_text",
		"expires_at",
		"can_create_database", "can_run_loadgen",
		"can_open_observability", "can_open_loadgen_ui",
		"user_message", "default_grafana_dashboard",
		"suggestion", "highlight",
	} {
		assert.Contains(t, raw, key)
	}
}
