package persona

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLRepository_CreateAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, nil)

	p := New("Helpful tutor", "You explain things patiently.")
	p.Model = "llama3"

	mock.ExpectExec("INSERT INTO personas").
		WithArgs(p.ID, p.Name, p.SystemPrompt, p.Model, nil, false, p.CreatedAt, p.UpdatedAt, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), p))

	now := time.Now()
	rows := sqlmock.NewRows(personaColumns).
		AddRow(p.ID, p.Name, p.SystemPrompt, p.Model, 0.7, true, now, now, nil)

	mock.ExpectQuery("SELECT (.+) FROM personas").
		WithArgs(p.ID).
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Helpful tutor", got.Name)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	assert.True(t, got.IsDefault)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_GetDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, nil)

	t.Run("none configured", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM personas").
			WillReturnRows(sqlmock.NewRows(personaColumns))

		_, err := repo.GetDefault(context.Background())
		assert.ErrorIs(t, err, ErrPersonaNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_SetDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, nil)

	mock.ExpectExec("UPDATE personas").
		WithArgs(false, "per_1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE personas").
		WithArgs(true, "per_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetDefault(context.Background(), "per_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, nil)

	mock.ExpectExec("DELETE FROM personas").
		WithArgs("per_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "per_missing"), ErrPersonaNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
