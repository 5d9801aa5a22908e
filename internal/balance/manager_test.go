package balance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/internal/retry"
	"trading-loop/pkg/venue/paper"
)

func TestSyncRefreshesAndKeepsLastValueOnFailure(t *testing.T) {
	v := paper.New(paper.Config{InitialBalance: 1000})
	m := NewManager(v, retry.NewCaller(retry.Policy{MaxRetries: 0}, nil))
	assert.Equal(t, 0.0, m.Available())

	b, err := m.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, b.Amount)
	assert.Equal(t, "USD", b.Currency)

	v.FailNext("balance", 1)
	b, err = m.Sync(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1000.0, b.Amount)
	assert.Equal(t, 1000.0, m.Available())
}

func TestSetInitialBalance(t *testing.T) {
	m := NewManager(nil, nil)
	m.SetInitialBalance(250, "USD")
	assert.Equal(t, 250.0, m.Get().Amount)
}
