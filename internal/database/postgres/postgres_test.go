package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestViolatedConstraint(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantConstraint string
		wantOK         bool
	}{
		{
			name:           "unique violation error",
			err:            &pgconn.PgError{Code: uniqueViolationErrCode, ConstraintName: "urls_short_code_key"},
			wantConstraint: "urls_short_code_key",
			wantOK:         true,
		},
		{
			name: "not unique violation error",
			err:  &pgconn.PgError{Code: "unknown error code", ConstraintName: "urls_short_code_key"},
		},
		{
			name: "not PgError",
			err:  errors.New("unknown error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			constraint, ok := violatedConstraint(tt.err)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantConstraint, constraint)
		})
	}
}

func TestIsShortCodeViolation(t *testing.T) {
	assert.True(t, isShortCodeViolation(&pgconn.PgError{
		Code:           uniqueViolationErrCode,
		ConstraintName: "urls_short_code_key",
	}))
	assert.False(t, isShortCodeViolation(&pgconn.PgError{
		Code:           uniqueViolationErrCode,
		ConstraintName: "urls_long_url_key",
	}))
	assert.False(t, isShortCodeViolation(errors.New("unknown error")))
}

func TestIsLongURLViolation(t *testing.T) {
	assert.True(t, isLongURLViolation(&pgconn.PgError{
		Code:           uniqueViolationErrCode,
		ConstraintName: "urls_long_url_key",
	}))
	assert.False(t, isLongURLViolation(&pgconn.PgError{
		Code:           uniqueViolationErrCode,
		ConstraintName: "urls_short_code_key",
	}))
	assert.False(t, isLongURLViolation(errors.New("unknown error")))
}
