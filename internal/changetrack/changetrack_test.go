package changetrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_NoChanges(t *testing.T) {
	tr := New(map[string]any{"email": "a@example.com", "phone": "+1555"})
	assert.False(t, tr.HasChanged())
	assert.Empty(t, tr.Changed())
}

func TestTracker_SetSameValue(t *testing.T) {
	tr := New(map[string]any{"email": "a@example.com"})
	tr.Set("email", "a@example.com")
	assert.False(t, tr.HasChanged(), "setting the baseline value is not a change")
}

func TestTracker_DetectsChangeAndNewField(t *testing.T) {
	tr := New(map[string]any{"email": "a@example.com", "phone": "+1555"})
	tr.Set("phone", "+1666")
	tr.Set("address", "1 Main St")
	require.True(t, tr.HasChanged())
	assert.Equal(t, []string{"address", "phone"}, tr.Changed())
}

func TestTracker_ResetBaseline(t *testing.T) {
	tr := New(map[string]any{"email": "a@example.com"})
	tr.Set("email", "b@example.com")
	tr.ResetBaseline()
	require.False(t, tr.HasChanged(), "reset must clear pending changes")
	tr.Set("email", "c@example.com")
	assert.Equal(t, []string{"email"}, tr.Changed())
}

func TestTracker_CopiesInput(t *testing.T) {
	values := map[string]any{"email": "a@example.com"}
	tr := New(values)
	values["email"] = "mutated@example.com"
	assert.False(t, tr.HasChanged(), "mutating the input map must not leak into the tracker")
}
