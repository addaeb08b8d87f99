package history

import (
	"strconv"
	"testing"

	"github.com/agentoven/companion/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_KeepsMostRecentInOrder(t *testing.T) {
	h := New(20)
	for i := 1; i <= 25; i++ {
		h.Append(models.Observation{ID: strconv.Itoa(i)})
	}

	require.Equal(t, 20, h.Len())
	all := h.Recent(0)
	require.Len(t, all, 20)
	for i, o := range all {
		assert.Equal(t, strconv.Itoa(i+6), o.ID)
	}

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, "25", latest.ID)
}

func TestRecent_Bounds(t *testing.T) {
	h := New(5)
	assert.Empty(t, h.Recent(3))

	h.Append(models.Observation{ID: "a"})
	h.Append(models.Observation{ID: "b"})
	got := h.Recent(5)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	got = h.Recent(1)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSubscribe(t *testing.T) {
	h := New(2)
	ch := h.Subscribe()
	h.Append(models.Observation{ID: "x"})
	assert.Equal(t, "x", (<-ch).ID)

	h.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
}
