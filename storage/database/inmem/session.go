package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/querydesc/core/querydesc"
)

type sessionRepository struct {
	db *sessionTable
}

var _ querydesc.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) querydesc.Repository {
	return &sessionRepository{db: db.session}
}

// copySession detaches the stored descriptor from the caller's.
func copySession(sess querydesc.Session) querydesc.Session {
	sess.Descriptor = sess.Descriptor.Clone()
	return sess
}

func (repo *sessionRepository) CreateSession(_ context.Context, sess querydesc.Session) (querydesc.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := copySession(sess)
	repo.db.table[sess.ID] = &stored
	return sess, nil
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (querydesc.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sess, ok := repo.db.table[id]; ok {
		return copySession(*sess), nil
	}
	return querydesc.Session{}, querydesc.ErrNotFound
}

func (repo *sessionRepository) QuerySessions(_ context.Context, owner string) ([]querydesc.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]querydesc.Session, 0)
	for _, sess := range repo.db.table {
		if sess.Owner == owner {
			sessions = append(sessions, copySession(*sess))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (repo *sessionRepository) UpdateSession(_ context.Context, sess querydesc.Session) (querydesc.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[sess.ID]
	if !ok {
		return querydesc.Session{}, querydesc.ErrNotFound
	}
	if orig.Version != sess.Version-1 {
		return querydesc.Session{}, querydesc.ErrVersionConflict
	}
	// only the descriptor & its bookkeeping change
	orig.Descriptor = sess.Descriptor.Clone()
	orig.Version = sess.Version
	orig.UpdatedAt = sess.UpdatedAt
	return copySession(*orig), nil
}

func (repo *sessionRepository) DeleteSession(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return querydesc.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
