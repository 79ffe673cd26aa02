package repository

import (
	"errors"
	"testing"

	repo "marketplace/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslateError(t *testing.T) {
	other := errors.New("connection reset")
	checkErr := &pgconn.PgError{Code: "23514"}

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"record not found", gorm.ErrRecordNotFound, repo.ErrNotFound},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, repo.ErrConflict},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, repo.ErrConflict},
		{"other pg error", checkErr, checkErr},
		{"other", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
