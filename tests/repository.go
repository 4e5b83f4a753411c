package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"github.com/trezcool/querydesc/core/querydesc"
)

// CreateSession stores a session of `owner` built from `preset`.
func CreateSession(t *testing.T, repo querydesc.Repository, owner, preset string, updatedAt ...time.Time) querydesc.Session {
	t.Helper()

	d, err := querydesc.Preset(preset)
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(updatedAt) > 0 {
		tstamp = updatedAt[0].UTC().Truncate(time.Microsecond)
	}
	sess, err := repo.CreateSession(context.Background(), querydesc.Session{
		ID:         uuid.New().String(),
		Owner:      owner,
		Screen:     preset,
		Version:    1,
		Descriptor: d,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}

// RunRepositoryTests checks the behaviour every querydesc.Repository must have.
func RunRepositoryTests(t *testing.T, repo querydesc.Repository) {
	ctx := context.Background()
	now := time.Now().UTC()

	old := CreateSession(t, repo, "awe", "records", now.Add(-time.Hour))
	recent := CreateSession(t, repo, "awe", "courses", now)
	other := CreateSession(t, repo, "king", "records", now)

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetSession(ctx, old.ID)
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		if diff := cmp.Diff(old, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("GetSession() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		if _, err := repo.GetSession(ctx, uuid.New().String()); err != querydesc.ErrNotFound {
			t.Errorf("GetSession() error = %v, wantErr %v", err, querydesc.ErrNotFound)
		}
	})

	t.Run("query by owner", func(t *testing.T) {
		got, err := repo.QuerySessions(ctx, "awe")
		if err != nil {
			t.Fatalf("QuerySessions() error = %v", err)
		}
		var ids []string
		for _, sess := range got {
			ids = append(ids, sess.ID)
		}
		if diff := cmp.Diff([]string{recent.ID, old.ID}, ids); diff != "" {
			t.Errorf("QuerySessions() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("query unknown owner", func(t *testing.T) {
		got, err := repo.QuerySessions(ctx, "nobody")
		if err != nil {
			t.Fatalf("QuerySessions() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("QuerySessions() = %v, want none", got)
		}
	})

	t.Run("update", func(t *testing.T) {
		next := other
		next.Version++
		next.Descriptor.Limit = 50
		next.UpdatedAt = now.Add(time.Minute).Truncate(time.Microsecond)
		if _, err := repo.UpdateSession(ctx, next); err != nil {
			t.Fatalf("UpdateSession() error = %v", err)
		}
		got, err := repo.GetSession(ctx, other.ID)
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		if got.Version != 2 || got.Descriptor.Limit != 50 || !got.UpdatedAt.Equal(next.UpdatedAt) {
			t.Errorf("UpdateSession() saved version %d, limit %d, updated_at %v", got.Version, got.Descriptor.Limit, got.UpdatedAt)
		}
	})

	t.Run("update stale version", func(t *testing.T) {
		stale := other // still version 1
		stale.Version++
		if _, err := repo.UpdateSession(ctx, stale); err != querydesc.ErrVersionConflict {
			t.Errorf("UpdateSession() error = %v, wantErr %v", err, querydesc.ErrVersionConflict)
		}
	})

	t.Run("update unknown", func(t *testing.T) {
		unknown := other
		unknown.ID = uuid.New().String()
		unknown.Version++
		if _, err := repo.UpdateSession(ctx, unknown); err != querydesc.ErrNotFound {
			t.Errorf("UpdateSession() error = %v, wantErr %v", err, querydesc.ErrNotFound)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := repo.DeleteSession(ctx, old.ID); err != nil {
			t.Fatalf("DeleteSession() error = %v", err)
		}
		if _, err := repo.GetSession(ctx, old.ID); err != querydesc.ErrNotFound {
			t.Errorf("GetSession() error = %v, wantErr %v", err, querydesc.ErrNotFound)
		}
		if err := repo.DeleteSession(ctx, old.ID); err != querydesc.ErrNotFound {
			t.Errorf("DeleteSession() error = %v, wantErr %v", err, querydesc.ErrNotFound)
		}
	})
}
