package usecase

import (
	"net/http"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"
)

type AuditHistoryOutput struct {
	Items []model.AuditLog `json:"items"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
	Total int64            `json:"total"`
}

// page は1始まり、limit は 1..200
func auditPage(page, limit int) (repo.AuditPage, error) {
	if page < 1 {
		return repo.AuditPage{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 200 {
		return repo.AuditPage{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	return repo.AuditPage{Limit: limit, Offset: (page - 1) * limit}, nil
}
