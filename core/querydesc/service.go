package querydesc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/querydesc/core"
)

// attempts made by Update when the repository reports a concurrent write
const maxUpdateAttempts = 3

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound        = errors.New("query session not found")
	ErrNodeNotFound    = errors.New("datasource not found")
	ErrVersionConflict = errors.New("query session has been modified since the given version")
)

type (
	// Session is a descriptor owned by one client screen.
	Session struct {
		ID         string     `json:"id"`
		Owner      string     `json:"owner"`
		Screen     string     `json:"screen,omitempty"`
		Version    int        `json:"version"`
		Descriptor Descriptor `json:"descriptor"`
		CreatedAt  time.Time  `json:"created_at"` // UTC
		UpdatedAt  time.Time  `json:"updated_at"` // UTC
	}

	// NewSession contains information needed to initialize a Session:
	// either a Descriptor literal or the name of a preset.
	NewSession struct {
		Screen     string      `json:"screen" validate:"omitempty,notblank"`
		Preset     string      `json:"preset" validate:"required_without=Descriptor"`
		Descriptor *Descriptor `json:"descriptor"`
	}

	SearchResult struct {
		Results    []json.RawMessage `json:"results"`
		TotalCount int               `json:"totalCount"`
		Limit      int               `json:"limit"`
		Offset     int               `json:"offset"`
	}

	Repository interface {
		CreateSession(ctx context.Context, sess Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		// QuerySessions returns the sessions of `owner`, most recently updated first.
		QuerySessions(ctx context.Context, owner string) ([]Session, error)
		// UpdateSession saves `sess` if the stored version is still sess.Version-1,
		// it fails with ErrVersionConflict otherwise.
		UpdateSession(ctx context.Context, sess Session) (Session, error)
		DeleteSession(ctx context.Context, id string) error
	}

	// Searcher sends descriptors to the backend search endpoints.
	Searcher interface {
		Search(ctx context.Context, endpoint string, d Descriptor, bearer string) (SearchResult, error)
	}

	// Service holds the descriptors of every client session. It replaces a process-wide store:
	// sessions are created with Initialize, changed with functional updates, observed with Subscribe
	// and discarded with Teardown.
	Service struct {
		repo     Repository
		store    *Store
		searcher Searcher
		validate *validator.Validate
		logger   core.Logger

		mu      sync.Mutex
		locks   map[string]*sync.Mutex
		subs    map[string]map[int]chan Session
		lastSub int
	}
)

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.Screen = core.CleanString(ns.Screen)
	ns.Preset = core.CleanString(ns.Preset)
	return validate.Struct(ns)
}

func NewService(repo Repository, store *Store, searcher Searcher, validate *validator.Validate, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		searcher: searcher,
		validate: validate,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		subs:     make(map[string]map[int]chan Session),
	}
}

func (svc *Service) Store() *Store { return svc.store }

// Initialize creates a new session for `owner` from a descriptor literal or a preset.
func (svc *Service) Initialize(ctx context.Context, owner string, ns NewSession) (Session, error) {
	var d Descriptor
	if ns.Descriptor != nil {
		d = ns.Descriptor.Clone()
	} else {
		var err error
		if d, err = Preset(ns.Preset); err != nil {
			return Session{}, core.NewValidationError(err, core.FieldError{Field: "preset", Error: "unknown preset"})
		}
	}
	if err := Validate(svc.validate, d); err != nil {
		return Session{}, err
	}

	screen := ns.Screen
	if screen == "" {
		screen = ns.Preset
	}
	now := NowFunc().UTC()
	sess, err := svc.repo.CreateSession(ctx, Session{
		ID:         uuid.New().String(),
		Owner:      owner,
		Screen:     screen,
		Version:    1,
		Descriptor: d,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}
	svc.logger.Debug(fmt.Sprintf("querydesc: session %s initialized", sess.ID), map[string]interface{}{"screen": screen})
	return sess, nil
}

func (svc *Service) Get(ctx context.Context, owner, id string) (Session, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Owner != owner {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (svc *Service) Query(ctx context.Context, owner string) ([]Session, error) {
	return svc.repo.QuerySessions(ctx, owner)
}

// Node returns a copy of the node named `datasource`.
func (svc *Service) Node(ctx context.Context, owner, id, datasource string) (Node, error) {
	sess, err := svc.Get(ctx, owner, id)
	if err != nil {
		return Node{}, err
	}
	n, ok := svc.store.Locate(sess.Descriptor, datasource)
	if !ok {
		return Node{}, ErrNodeNotFound
	}
	return *n.Clone(), nil
}

// Field returns the JSON field `field` of the node named `datasource`; ok is false if the field is not set.
func (svc *Service) Field(ctx context.Context, owner, id, datasource, field string) (val interface{}, ok bool, err error) {
	sess, err := svc.Get(ctx, owner, id)
	if err != nil {
		return nil, false, err
	}
	if _, found := svc.store.Locate(sess.Descriptor, datasource); !found {
		return nil, false, ErrNodeNotFound
	}
	val, ok = svc.store.GetField(sess.Descriptor, datasource, field)
	return val, ok, nil
}

// Merge applies `u` to the node named `datasource`. See Update for `ifVersion`.
func (svc *Service) Merge(ctx context.Context, owner, id, datasource string, u NodeUpdate, ifVersion int) (Session, error) {
	if err := svc.validate.Struct(u); err != nil {
		return Session{}, err
	}
	return svc.Update(ctx, owner, id, ifVersion, func(d Descriptor) Descriptor {
		return svc.store.Merge(d, datasource, u)
	})
}

// Paginate sets the page window of the session descriptor. See Update for `ifVersion`.
func (svc *Service) Paginate(ctx context.Context, owner, id string, offset, limit, ifVersion int) (Session, error) {
	var flds []core.FieldError
	if offset < 0 {
		flds = append(flds, core.FieldError{Field: "offset", Error: "offset must be 0 or greater"})
	}
	if limit < 0 {
		flds = append(flds, core.FieldError{Field: "limit", Error: "limit must be 0 or greater"})
	}
	if flds != nil {
		return Session{}, core.NewValidationError(nil, flds...)
	}
	return svc.Update(ctx, owner, id, ifVersion, func(d Descriptor) Descriptor {
		return svc.store.Paginate(d, offset, limit)
	})
}

// Update replaces the session descriptor with fn(latest descriptor).
// fn always receives the latest stored descriptor, so concurrent updates never overwrite each other.
// A non-zero `ifVersion` makes the update fail with ErrVersionConflict unless it is the stored version.
func (svc *Service) Update(ctx context.Context, owner, id string, ifVersion int, fn func(Descriptor) Descriptor) (Session, error) {
	// unknown ids must not allocate a lock
	if _, err := svc.Get(ctx, owner, id); err != nil {
		return Session{}, err
	}
	lock := svc.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; ; attempt++ {
		sess, err := svc.Get(ctx, owner, id)
		if err != nil {
			return Session{}, err
		}
		if ifVersion != 0 && ifVersion != sess.Version {
			return Session{}, ErrVersionConflict
		}

		next := fn(sess.Descriptor)
		if sameDescriptor(next, sess.Descriptor) {
			return sess, nil
		}
		sess.Descriptor = next
		sess.Version++
		sess.UpdatedAt = NowFunc().UTC()

		saved, err := svc.repo.UpdateSession(ctx, sess)
		if err == nil {
			svc.publish(saved)
			return saved, nil
		}
		// another process wrote first: derive again from its result
		if errors.Cause(err) != ErrVersionConflict || ifVersion != 0 || attempt >= maxUpdateAttempts {
			return Session{}, errors.Wrap(err, "updating session")
		}
		svc.logger.Debug(fmt.Sprintf("querydesc: session %s changed concurrently, retrying", id), map[string]interface{}{"attempt": attempt})
	}
}

// Teardown discards the session and closes its subscriptions.
func (svc *Service) Teardown(ctx context.Context, owner, id string) error {
	if _, err := svc.Get(ctx, owner, id); err != nil {
		return err
	}
	if err := svc.repo.DeleteSession(ctx, id); err != nil {
		return errors.Wrap(err, "deleting session")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, ch := range svc.subs[id] {
		close(ch)
	}
	delete(svc.subs, id)
	delete(svc.locks, id)
	return nil
}

// Subscribe returns a channel receiving the session after every update. Only the latest update is kept
// for slow receivers. The channel is closed by cancel or Teardown.
func (svc *Service) Subscribe(id string) (<-chan Session, func()) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.lastSub++
	subID := svc.lastSub
	ch := make(chan Session, 1)
	if svc.subs[id] == nil {
		svc.subs[id] = make(map[int]chan Session)
	}
	svc.subs[id][subID] = ch

	cancel := func() {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		if c, ok := svc.subs[id][subID]; ok {
			close(c)
			delete(svc.subs[id], subID)
		}
		if len(svc.subs[id]) == 0 {
			delete(svc.subs, id)
		}
	}
	return ch, cancel
}

// Watch waits until the session version is greater than `afterVersion` and returns it.
// When ctx is done first, the current session is returned with ctx.Err().
func (svc *Service) Watch(ctx context.Context, owner, id string, afterVersion int) (Session, error) {
	sess, err := svc.Get(ctx, owner, id)
	if err != nil || sess.Version > afterVersion {
		return sess, err
	}

	updates, cancel := svc.Subscribe(id)
	defer cancel()

	// an update may have landed before subscribing
	if sess, err = svc.Get(ctx, owner, id); err != nil || sess.Version > afterVersion {
		return sess, err
	}
	for {
		select {
		case next, ok := <-updates:
			if !ok {
				return Session{}, ErrNotFound
			}
			if next.Version > afterVersion {
				return next, nil
			}
		case <-ctx.Done():
			return sess, ctx.Err()
		}
	}
}

// Search sends the session descriptor to the backend `endpoint`.
func (svc *Service) Search(ctx context.Context, owner, id, endpoint, bearer string) (SearchResult, error) {
	sess, err := svc.Get(ctx, owner, id)
	if err != nil {
		return SearchResult{}, err
	}
	res, err := svc.searcher.Search(ctx, endpoint, sess.Descriptor, bearer)
	if err != nil {
		return SearchResult{}, errors.Wrapf(err, "searching %s", endpoint)
	}
	return res, nil
}

func (svc *Service) sessionLock(id string) *sync.Mutex {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	lock, ok := svc.locks[id]
	if !ok {
		lock = new(sync.Mutex)
		svc.locks[id] = lock
	}
	return lock
}

func (svc *Service) publish(sess Session) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, ch := range svc.subs[sess.ID] {
		select {
		case ch <- sess:
		default:
			// drop the stale update
			select {
			case <-ch:
			default:
			}
			ch <- sess
		}
	}
}

// sameDescriptor reports whether `b` is `a` untouched; writes always copy the root.
func sameDescriptor(a, b Descriptor) bool {
	return a.Root == b.Root && a.Limit == b.Limit && a.Offset == b.Offset
}
