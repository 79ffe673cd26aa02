package memstore

import (
	"context"
	"sort"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"
)

type auditRepo struct{ t *tx }

func (r auditRepo) Create(ctx context.Context, log model.AuditLog) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	log.ID = s.nextID()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	s.auditLogs[log.ID] = log
	r.t.onRollback(func() { delete(s.auditLogs, log.ID) })
	return nil
}

func (r auditRepo) ListForOrder(ctx context.Context, orderID int64, p repo.AuditPage) ([]model.AuditLog, int64, error) {
	return r.listByResource(model.AuditResourceOrder, orderID, p)
}

func (r auditRepo) ListForVariant(ctx context.Context, variantID int64, p repo.AuditPage) ([]model.AuditLog, int64, error) {
	return r.listByResource(model.AuditResourceVariant, variantID, p)
}

func (r auditRepo) listByResource(rt model.AuditResourceType, id int64, p repo.AuditPage) ([]model.AuditLog, int64, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := []model.AuditLog{}
	for _, l := range s.auditLogs {
		if l.ResourceType == rt && l.ResourceID == id {
			logs = append(logs, l)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].ID > logs[j].ID })

	total := int64(len(logs))
	if p.Offset >= len(logs) {
		return []model.AuditLog{}, total, nil
	}
	end := len(logs)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return logs[p.Offset:end], total, nil
}

// 監査ログ全件（テスト用）
func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditLog, 0, len(s.auditLogs))
	for _, l := range s.auditLogs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
