package mock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/poiesic/dealwire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDealExtractor_Default(t *testing.T) {
	m := NewMockDealExtractor()

	raw, err := m.Extract(context.Background(), "headline")

	require.NoError(t, err)
	result, warnings, err := core.ParseExtractionResult(raw)
	require.NoError(t, err)
	assert.False(t, result.DealDetected)
	assert.Empty(t, warnings)
	assert.Equal(t, 1, m.CallCount())
	assert.Equal(t, []string{"headline"}, m.Texts())
}

func TestMockDealExtractor_Custom(t *testing.T) {
	boom := errors.New("model offline")
	m := NewMockDealExtractor().WithExtractFunc(func(context.Context, string) (string, error) {
		return "", boom
	})

	_, err := m.Extract(context.Background(), "x")
	assert.ErrorIs(t, err, boom)

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
	assert.Empty(t, m.Texts())
	raw, err := m.Extract(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, NoDealResponse, raw)
}

func TestMockDealExtractor_Concurrent(t *testing.T) {
	m := NewMockDealExtractor().WithResponse("{}")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Extract(context.Background(), "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, m.CallCount())
	assert.Len(t, m.Texts(), 50)
}

func TestMockProvider(t *testing.T) {
	p := NewMockProviderWithExtractor(NewMockDealExtractor())

	assert.Same(t, p.GetMockExtractor(), p.DealExtractor())
	require.NoError(t, p.Close())
	assert.True(t, p.Closed())
}
