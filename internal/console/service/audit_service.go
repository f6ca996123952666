package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/domain"
)

// AuditLogProvider описывает контракт для чтения записей цепочки
type AuditLogProvider interface {
	GetRange(ctx context.Context, tenantID string, fromSeq, toSeq int64) ([]domain.AuditEntry, error)
	GetLastEntry(ctx context.Context, tenantID string) (*domain.AuditEntry, error)
}

type AuditService struct {
	repo  AuditLogProvider
	chain *auditchain.Chain
}

func NewAuditService(repo AuditLogProvider, chain *auditchain.Chain) *AuditService {
	return &AuditService{
		repo:  repo,
		chain: chain,
	}
}

// FetchRange отдает срез цепочки тенанта. toSeq=0 означает «до хвоста».
func (s *AuditService) FetchRange(ctx context.Context, tenantID string, fromSeq, toSeq int64) ([]domain.AuditEntry, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	if toSeq == 0 {
		head, err := s.repo.GetLastEntry(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("audit_service: failed to read chain head: %w", err)
		}
		if head == nil {
			return []domain.AuditEntry{}, nil
		}
		toSeq = head.SequenceNumber
	}

	entries, err := s.repo.GetRange(ctx, tenantID, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch entries: %w", err)
	}
	return entries, nil
}

// Verify перепроверяет хэш-цепочку по диапазону
func (s *AuditService) Verify(ctx context.Context, tenantID string, fromSeq, toSeq int64) (domain.VerifyResult, error) {
	if toSeq == 0 {
		head, err := s.repo.GetLastEntry(ctx, tenantID)
		if err != nil {
			return domain.VerifyResult{}, fmt.Errorf("audit_service: failed to read chain head: %w", err)
		}
		if head == nil {
			return domain.VerifyResult{IsValid: true}, nil
		}
		toSeq = head.SequenceNumber
	}
	return s.chain.Verify(ctx, tenantID, fromSeq, toSeq)
}
