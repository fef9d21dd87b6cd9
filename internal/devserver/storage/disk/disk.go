package disk

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"time"

	"github.com/heroku/loopauth/internal/devserver/storage"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Storage = (*Storage)(nil)

var bucketSessions = []byte("sessions")

func encodeSession(s *storage.Session) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := gob.NewEncoder(buf).Encode(s)
	return buf.Bytes(), err
}

func decodeSession(data []byte) (*storage.Session, error) {
	var s storage.Session
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s)
	return &s, err
}

// Storage keeps sessions in a bbolt database file.
type Storage struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens (creating if needed) the database at path.
func New(path string, mode os.FileMode) (*Storage, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating sessions bucket")
	}
	return &Storage{db: db, now: time.Now}, nil
}

// Close releases the database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Get(_ context.Context, id string) (*storage.Session, error) {
	var sess *storage.Session

	err := s.db.View(func(tx *bolt.Tx) error {
		o := tx.Bucket(bucketSessions).Get([]byte(id))
		if o == nil {
			return &storage.NotFoundError{ID: id}
		}
		r, err := decodeSession(o)
		if err != nil {
			return errors.Wrapf(err, "decoding session %s", id)
		}
		if !r.Expires.After(s.now()) {
			return &storage.NotFoundError{ID: id}
		}
		sess = r
		return nil
	})

	return sess, err
}

func (s *Storage) Put(_ context.Context, sess *storage.Session) error {
	b, err := encodeSession(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(sess.ID), b)
	})
}

func (s *Storage) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(id)) == nil {
			return &storage.NotFoundError{ID: id}
		}
		return b.Delete([]byte(id))
	})
}

func (s *Storage) GarbageCollect(_ context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			r, err := decodeSession(v)
			if err != nil {
				return errors.Wrapf(err, "decoding session %s", k)
			}
			if !r.Expires.After(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		// bolt does not allow deleting while iterating with ForEach
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}
