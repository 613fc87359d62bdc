package repositories_test

import (
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/repositories"
)

func TestSnapshotReader_GetByEpoch_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := repositories.NewPostgresSnapshotReader(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM snapshots WHERE epoch = $1")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err = reader.GetByEpoch(t.Context(), 99)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotReader_GetByEpoch_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := repositories.NewPostgresSnapshotReader(db)

	rows := sqlmock.NewRows([]string{"epoch", "hash", "canonical_json", "verification_status", "verified_at"}).
		AddRow(int64(42), "a3f1", []byte(`{"x":1}`), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM snapshots WHERE epoch = $1")).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	snap, err := reader.GetByEpoch(t.Context(), 42)
	require.NoError(t, err)
	assert.Equal(t, "a3f1", snap.Hash)
	assert.Equal(t, entities.VerificationPending, snap.VerificationStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotReader_UpdateVerification(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := repositories.NewPostgresSnapshotReader(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE snapshots SET verification_status")).
		WithArgs(int64(42), string(entities.VerificationVerified), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = reader.UpdateVerification(t.Context(), 42, entities.VerificationVerified, time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
