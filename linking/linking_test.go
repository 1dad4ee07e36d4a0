package linking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	seed := map[string]Stats{"acme": {Linked: 6, ReviewRequired: 2}}
	s := NewStatic(seed)
	seed["acme"] = Stats{} // NewStatic copies its input

	st, err := s.Stats(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, Stats{Linked: 6, ReviewRequired: 2}, st)

	st, err = s.Stats(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Zero(t, st)

	s.Set("globex", Stats{Linked: 1})
	st, _ = s.Stats(context.Background(), "globex")
	assert.Equal(t, 1, st.Linked)
}
