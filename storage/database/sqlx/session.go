package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/querydesc/core/querydesc"
)

const sessionColumns = "id, owner, screen, version, descriptor, created_at, updated_at"

type sessionRow struct {
	ID         string    `db:"id"`
	Owner      string    `db:"owner"`
	Screen     string    `db:"screen"`
	Version    int       `db:"version"`
	Descriptor []byte    `db:"descriptor"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func newSessionRow(sess querydesc.Session) (sessionRow, error) {
	data, err := json.Marshal(sess.Descriptor)
	if err != nil {
		return sessionRow{}, errors.Wrap(err, "encoding descriptor")
	}
	return sessionRow{
		ID:         sess.ID,
		Owner:      sess.Owner,
		Screen:     sess.Screen,
		Version:    sess.Version,
		Descriptor: data,
		CreatedAt:  sess.CreatedAt.UTC(),
		UpdatedAt:  sess.UpdatedAt.UTC(),
	}, nil
}

func (row sessionRow) session() (querydesc.Session, error) {
	sess := querydesc.Session{
		ID:        row.ID,
		Owner:     row.Owner,
		Screen:    row.Screen,
		Version:   row.Version,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal(row.Descriptor, &sess.Descriptor); err != nil {
		return querydesc.Session{}, errors.Wrapf(err, "decoding descriptor of session %s", row.ID)
	}
	return sess, nil
}

type sessionRepository struct {
	db *sqlx.DB
}

var _ querydesc.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) querydesc.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, sess querydesc.Session) (querydesc.Session, error) {
	row, err := newSessionRow(sess)
	if err != nil {
		return querydesc.Session{}, err
	}
	q := `INSERT INTO query_session (` + sessionColumns + `)
		VALUES (:id, :owner, :screen, :version, :descriptor, :created_at, :updated_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		return querydesc.Session{}, errors.Wrap(err, "inserting session")
	}
	return sess, nil
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (querydesc.Session, error) {
	var row sessionRow
	q := `SELECT ` + sessionColumns + ` FROM query_session WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return querydesc.Session{}, querydesc.ErrNotFound
		}
		return querydesc.Session{}, errors.Wrap(err, "selecting session")
	}
	return row.session()
}

func (repo *sessionRepository) QuerySessions(ctx context.Context, owner string) ([]querydesc.Session, error) {
	var rows []sessionRow
	q := `SELECT ` + sessionColumns + ` FROM query_session WHERE owner = $1 ORDER BY updated_at DESC, id`
	if err := repo.db.SelectContext(ctx, &rows, q, owner); err != nil {
		return nil, errors.Wrap(err, "selecting sessions")
	}

	sessions := make([]querydesc.Session, 0, len(rows))
	for _, row := range rows {
		sess, err := row.session()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// UpdateSession compares & swaps on the version column, which serializes writers across processes.
func (repo *sessionRepository) UpdateSession(ctx context.Context, sess querydesc.Session) (querydesc.Session, error) {
	row, err := newSessionRow(sess)
	if err != nil {
		return querydesc.Session{}, err
	}
	q := `UPDATE query_session SET descriptor = $1, version = $2, updated_at = $3 WHERE id = $4 AND version = $5`
	res, err := repo.db.ExecContext(ctx, q, row.Descriptor, row.Version, row.UpdatedAt, row.ID, row.Version-1)
	if err != nil {
		return querydesc.Session{}, errors.Wrap(err, "updating session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return querydesc.Session{}, errors.Wrap(err, "updating session")
	}
	if n == 0 {
		// tell a missing session from a stale one
		if _, err = repo.GetSession(ctx, sess.ID); err != nil {
			return querydesc.Session{}, err
		}
		return querydesc.Session{}, querydesc.ErrVersionConflict
	}
	return sess, nil
}

func (repo *sessionRepository) DeleteSession(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM query_session WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return querydesc.ErrNotFound
	}
	return nil
}
