package wire

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvokeAssignsUniqueIDs(t *testing.T) {
	a := NewInvoke("list_projects", nil)
	b := NewInvoke("list_projects", nil)

	assert.Equal(t, TypeInvoke, a.Type)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	_, err := uuid.Parse(a.ID)
	assert.NoError(t, err)
}

func TestInvokeEncoding(t *testing.T) {
	env := NewInvoke("create_session", map[string]interface{}{"worktree": "wt-1"})
	data, err := env.Encode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, TypeInvoke, parsed.Type)
	assert.Equal(t, env.ID, parsed.ID)
	assert.Equal(t, "create_session", parsed.Command)
	assert.Equal(t, "wt-1", parsed.Args["worktree"])
}

func TestResponseCarriesRawData(t *testing.T) {
	env, err := NewResponse("id-1", map[string]interface{}{"ok": true})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, parsed.Type)
	assert.Equal(t, "id-1", parsed.ID)
	assert.JSONEq(t, `{"ok":true}`, string(parsed.Data))
}

func TestErrorEnvelope(t *testing.T) {
	env := NewError("id-2", "unknown command")
	data, err := env.Encode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, TypeError, parsed.Type)
	assert.Equal(t, "id-2", parsed.ID)
	assert.Equal(t, "unknown command", parsed.Error)
}

func TestEventEnvelopeHasNoID(t *testing.T) {
	env, err := NewEvent("session_updated", map[string]interface{}{"id": "s1"})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, parsed.Type)
	assert.Empty(t, parsed.ID)
	assert.Equal(t, "session_updated", parsed.Event)
	assert.JSONEq(t, `{"id":"s1"}`, string(parsed.Payload))
}

func TestNewResponseRejectsUnmarshalable(t *testing.T) {
	_, err := NewResponse("id", func() {})
	assert.Error(t, err)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	assert.Error(t, err)

	_, err = Parse(nil)
	assert.Error(t, err)
}

func TestParseUnknownFieldsIgnored(t *testing.T) {
	env, err := Parse([]byte(`{"type":"event","event":"x","extra":123}`))
	require.NoError(t, err)
	assert.Equal(t, "x", env.Event)
}

func TestOmitEmptyKeepsInvokeLean(t *testing.T) {
	env := NewInvoke("ping", nil)
	data, err := env.Encode()
	require.NoError(t, err)

	s := string(data)
	assert.NotContains(t, s, "args")
	assert.NotContains(t, s, "data")
	assert.NotContains(t, s, "error")
	assert.NotContains(t, s, "event")
	assert.NotContains(t, s, "payload")
}
