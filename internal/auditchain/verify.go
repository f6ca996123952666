package auditchain

import (
	"context"
	"fmt"

	"github.com/xela07ax/cato-pipeline/internal/domain"
)

// Verify перечитывает диапазон цепочки тенанта и пересчитывает хэши.
// Возвращает все найденные расхождения; FirstMismatchSeq указывает на
// первую поврежденную запись.
func (c *Chain) Verify(ctx context.Context, tenantID string, fromSeq, toSeq int64) (domain.VerifyResult, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}

	entries, err := c.store.GetRange(ctx, tenantID, fromSeq, toSeq)
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("read range: %w", err)
	}

	result := domain.VerifyResult{IsValid: true}

	var prevHash string
	if fromSeq > 1 {
		prev, err := c.store.GetRange(ctx, tenantID, fromSeq-1, fromSeq-1)
		if err != nil {
			return domain.VerifyResult{}, fmt.Errorf("read range head: %w", err)
		}
		if len(prev) == 1 {
			prevHash = prev[0].MerkleHash
		} else {
			addError(&result, fromSeq, fmt.Sprintf("missing predecessor entry seq=%d", fromSeq-1))
		}
	}

	expectedSeq := fromSeq
	for _, entry := range entries {
		if entry.SequenceNumber != expectedSeq {
			addError(&result, expectedSeq, fmt.Sprintf("sequence gap: expected %d, got %d", expectedSeq, entry.SequenceNumber))
			// Дальше сверяем от фактического номера
			expectedSeq = entry.SequenceNumber
		}

		if entry.PreviousHash != prevHash {
			addError(&result, entry.SequenceNumber, fmt.Sprintf("broken link at seq=%d: previous_hash mismatch", entry.SequenceNumber))
		}

		recomputed := ComputeHash(entry.PreviousHash, entry.EntryContent, entry.SequenceNumber)
		if recomputed != entry.MerkleHash {
			addError(&result, entry.SequenceNumber, fmt.Sprintf("tampered entry at seq=%d: stored hash does not match content", entry.SequenceNumber))
		}

		prevHash = entry.MerkleHash
		expectedSeq++
	}

	return result, nil
}

// addError помечает результат невалидным и фиксирует первую проблемную запись
func addError(r *domain.VerifyResult, seq int64, msg string) {
	if r.IsValid {
		r.IsValid = false
		r.FirstMismatchSeq = seq
	}
	r.Errors = append(r.Errors, msg)
}
