package vault

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"go", "sync"}, normalizeTags([]string{" Go", "sync", "go", ""}))
	assert.Nil(t, normalizeTags(nil))
}

func TestSnippet_SyncGroup_Repository(t *testing.T) {
	linked := New("from chat", "content", nil)
	linked.ChatID = "chat_1"
	assert.Equal(t, "chat_1", linked.SyncGroup())

	standalone := New("standalone", "content", nil)
	assert.Equal(t, standalone.ID, standalone.SyncGroup())
}

func TestSQLRepository_CreateAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, nil)

	snip := New("Useful answer", "use context.WithCancel", []string{"go", "context"})
	snip.ChatID = "chat_1"
	snip.MessageID = "msg_1"

	mock.ExpectExec("INSERT INTO vault_snippets").
		WithArgs(snip.ID, snip.Title, snip.Content, "go,context", "chat_1", "msg_1", snip.CreatedAt, snip.UpdatedAt, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), snip))

	now := time.Now()
	rows := sqlmock.NewRows(snippetColumns).
		AddRow(snip.ID, snip.Title, snip.Content, "go,context", "chat_1", "msg_1", now, now, nil)

	mock.ExpectQuery("SELECT (.+) FROM vault_snippets").
		WithArgs(snip.ID).
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), snip.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "context"}, got.Tags)
	assert.Equal(t, "chat_1", got.ChatID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_ListByTag(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, nil)

	now := time.Now()
	rows := sqlmock.NewRows(snippetColumns).
		AddRow("vlt_1", "tagged", "content", "go", nil, nil, now, now, nil)

	mock.ExpectQuery("SELECT (.+) FROM vault_snippets").
		WithArgs("%,go,%").
		WillReturnRows(rows)

	snippets, err := repo.List(context.Background(), "go", 0, 0)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "vlt_1", snippets[0].ID)
	assert.Empty(t, snippets[0].ChatID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, nil)

	mock.ExpectExec("DELETE FROM vault_snippets").
		WithArgs("vlt_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "vlt_missing"), ErrSnippetNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
