package auditchain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

// memStore — append-only хранилище в памяти для тестов
type memStore struct {
	mu      sync.Mutex
	entries map[string][]domain.AuditEntry
	failing bool
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]domain.AuditEntry)}
}

func (s *memStore) AppendEntry(ctx context.Context, entry *domain.AuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errors.New("disk full")
	}
	s.entries[entry.TenantID] = append(s.entries[entry.TenantID], *entry)
	return entry.SequenceNumber, nil
}

func (s *memStore) GetLastEntry(ctx context.Context, tenantID string) (*domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[tenantID]
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (s *memStore) GetRange(ctx context.Context, tenantID string, fromSeq, toSeq int64) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries[tenantID] {
		if e.SequenceNumber >= fromSeq && e.SequenceNumber <= toSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestAppend_SequenceAndLinkage(t *testing.T) {
	store := newMemStore()
	chain := NewChain(store, zap.NewNop())

	for i := 1; i <= 3; i++ {
		seq, err := chain.Append(context.Background(), "t1", domain.EntryDecision, map[string]int{"n": i})
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	entries, _ := store.GetRange(context.Background(), "t1", 1, 3)
	require.Len(t, entries, 3)

	assert.Empty(t, entries[0].PreviousHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].MerkleHash, entries[i].PreviousHash)
	}
	for _, e := range entries {
		assert.Equal(t, ComputeHash(e.PreviousHash, e.EntryContent, e.SequenceNumber), e.MerkleHash)
	}
}

func TestAppend_TenantsAreIndependentChains(t *testing.T) {
	store := newMemStore()
	chain := NewChain(store, zap.NewNop())

	seqA, err := chain.Append(context.Background(), "tenant-a", domain.EntryDecision, "a")
	require.NoError(t, err)
	seqB, err := chain.Append(context.Background(), "tenant-b", domain.EntryDecision, "b")
	require.NoError(t, err)

	assert.Equal(t, int64(1), seqA)
	assert.Equal(t, int64(1), seqB)
}

func TestAppend_StoreFailureWrapsAuditError(t *testing.T) {
	store := newMemStore()
	store.failing = true
	chain := NewChain(store, zap.NewNop())

	_, err := chain.Append(context.Background(), "t1", domain.EntryDecision, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuditWriteFailed)
}

func TestVerify_ValidChain(t *testing.T) {
	store := newMemStore()
	chain := NewChain(store, zap.NewNop())

	for i := 0; i < 10; i++ {
		_, err := chain.Append(context.Background(), "t1", domain.EntryDecision, map[string]int{"n": i})
		require.NoError(t, err)
	}

	res, err := chain.Verify(context.Background(), "t1", 1, 10)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestVerify_DetectsTamperedEntry(t *testing.T) {
	store := newMemStore()
	chain := NewChain(store, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := chain.Append(context.Background(), "t1", domain.EntryDecision, map[string]int{"n": i})
		require.NoError(t, err)
	}

	// Подменяем содержимое третьей записи, хэш остается старым
	store.mu.Lock()
	store.entries["t1"][2].EntryContent = []byte(`{"n":999}`)
	store.mu.Unlock()

	res, err := chain.Verify(context.Background(), "t1", 1, 5)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, int64(3), res.FirstMismatchSeq)
	assert.NotEmpty(t, res.Errors)
}

func TestVerify_MidRangeUsesPredecessorHash(t *testing.T) {
	store := newMemStore()
	chain := NewChain(store, zap.NewNop())

	for i := 0; i < 6; i++ {
		_, err := chain.Append(context.Background(), "t1", domain.EntryDecision, map[string]int{"n": i})
		require.NoError(t, err)
	}

	res, err := chain.Verify(context.Background(), "t1", 3, 6)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}

func TestVerify_DetectsBrokenLink(t *testing.T) {
	store := newMemStore()
	chain := NewChain(store, zap.NewNop())

	for i := 0; i < 4; i++ {
		_, err := chain.Append(context.Background(), "t1", domain.EntryDecision, map[string]int{"n": i})
		require.NoError(t, err)
	}

	store.mu.Lock()
	store.entries["t1"][1].PreviousHash = "forged"
	store.entries["t1"][1].MerkleHash = ComputeHash("forged", store.entries["t1"][1].EntryContent, 2)
	store.mu.Unlock()

	res, err := chain.Verify(context.Background(), "t1", 1, 4)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, int64(2), res.FirstMismatchSeq)
}

func TestComputeHash_Deterministic(t *testing.T) {
	a := ComputeHash("prev", []byte(`{"x":1}`), 7)
	b := ComputeHash("prev", []byte(`{"x":1}`), 7)
	c := ComputeHash("prev", []byte(`{"x":1}`), 8)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
