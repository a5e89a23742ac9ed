package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleUnmarshalAcceptsKnownRoles(t *testing.T) {
	var msgs []Message
	payload := `[{"role":"user","content":"a"},{"role":"assistant","content":"b"},{"role":"model","content":"c"}]`

	require.NoError(t, json.Unmarshal([]byte(payload), &msgs))
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
}

func TestRoleUnmarshalRejectsUnknownRole(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"role":"system","content":"x"}`), &msg)
	assert.Error(t, err)
}

func TestNewRecordSerializesEmptyMessages(t *testing.T) {
	data, err := json.Marshal(NewRecord("", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"city":"","state":"","messages":[]}`, string(data))
}

func TestHasCity(t *testing.T) {
	assert.True(t, HasCity("Portland"))
	assert.False(t, HasCity(NoCity))
	assert.False(t, HasCity(""))
	assert.False(t, HasCity("  "))
	assert.Equal(t, NoCity, NormalizeCity(""))
	assert.Equal(t, "Eugene", NormalizeCity(" Eugene "))
}
