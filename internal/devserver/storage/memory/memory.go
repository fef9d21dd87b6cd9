package memory

import (
	"context"
	"sync"
	"time"

	"github.com/heroku/loopauth/internal/devserver/storage"
)

var _ storage.Storage = (*Storage)(nil)

// Storage is an in-memory implementation of storage.Storage. It should only be
// used for testing or similar. All data will be lost when the process ends.
type Storage struct {
	sync.Mutex
	m map[string]storage.Session

	// Now defaults to time.Now
	Now func() time.Time
}

func New() *Storage {
	return &Storage{
		m:   make(map[string]storage.Session),
		Now: time.Now,
	}
}

func (s *Storage) Get(_ context.Context, id string) (*storage.Session, error) {
	s.Lock()
	defer s.Unlock()

	sess, ok := s.m[id]
	if !ok || !sess.Expires.After(s.Now()) {
		return nil, &storage.NotFoundError{ID: id}
	}

	return &sess, nil
}

func (s *Storage) Put(_ context.Context, sess *storage.Session) error {
	s.Lock()
	defer s.Unlock()

	s.m[sess.ID] = *sess
	return nil
}

func (s *Storage) Delete(_ context.Context, id string) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.m[id]; !ok {
		return &storage.NotFoundError{ID: id}
	}
	delete(s.m, id)
	return nil
}

func (s *Storage) GarbageCollect(_ context.Context, now time.Time) (int, error) {
	s.Lock()
	defer s.Unlock()

	var n int
	for id, sess := range s.m {
		if !sess.Expires.After(now) {
			delete(s.m, id)
			n++
		}
	}
	return n, nil
}
