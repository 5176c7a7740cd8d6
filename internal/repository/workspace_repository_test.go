package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/workspace-hub-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestWorkspaceRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkspaceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO id_sequences")).
		WithArgs(seqWorkspace).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workspaces")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO members")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ws := &models.Workspace{Name: "Research", OwnerID: "owner-1", Active: true}
	owner := &models.Member{UserID: "owner-1", Role: models.WorkspaceRoleAdmin, Active: true}
	evt := &models.Event{Kind: models.EventWorkspaceCreated, ActorID: "owner-1"}

	require.NoError(t, repo.Create(context.Background(), ws, owner, evt))
	assert.Equal(t, int64(7), ws.ID)
	assert.Equal(t, int64(7), owner.WorkspaceID)
	assert.Equal(t, "7", evt.EntityID)
	assert.NotEmpty(t, evt.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkspaceRepositoryFindMemberMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkspaceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT workspace_id, user_id, role, joined_at, active FROM members")).
		WithArgs(int64(1), "ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindMember(context.Background(), 1, "ghost")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkspaceRepositoryListMembers(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkspaceRepository(db)

	joined := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"workspace_id", "user_id", "role", "joined_at", "active"}).
		AddRow(1, "owner-1", "ADMIN", joined, true).
		AddRow(1, "member-1", "VIEWER", joined, true)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT workspace_id, user_id, role, joined_at, active FROM members")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	members, err := repo.ListMembers(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, models.WorkspaceRoleAdmin, members[0].Role)
	assert.Equal(t, "member-1", members[1].UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkspaceRepositoryUpdateMemberRole(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkspaceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE members SET role = $3")).
		WithArgs(int64(1), "member-1", models.WorkspaceRoleEditor).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evt := &models.Event{Kind: models.EventMemberRoleUpdated, EntityID: "1", ActorID: "owner-1"}
	require.NoError(t, repo.UpdateMemberRole(context.Background(), 1, "member-1", models.WorkspaceRoleEditor, evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkspaceRepositoryRemoveMemberMissingRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkspaceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE members SET active = FALSE")).
		WithArgs(int64(1), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	evt := &models.Event{Kind: models.EventMemberRemoved, EntityID: "1", ActorID: "owner-1"}
	err := repo.RemoveMember(context.Background(), 1, "ghost", evt)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}
