package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/heroku/loopauth/internal/devserver/storage"
	"github.com/pkg/errors"
)

var _ storage.Storage = (*Storage)(nil)

// Storage keeps sessions in Postgres. Open the *sql.DB with the "postgres"
// driver from github.com/lib/pq.
type Storage struct {
	db *sql.DB
}

// New runs any pending migrations and returns the storage.
func New(ctx context.Context, db *sql.DB) (*Storage, error) {
	s := &Storage{
		db: db,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "migrating session tables")
	}

	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(
		ctx,
		`create table if not exists migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `insert into migrations (idx, at) values ($1, now());`, i); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Storage) Get(ctx context.Context, id string) (*storage.Session, error) {
	sess := storage.Session{ID: id}
	if err := s.db.QueryRowContext(
		ctx,
		`select user_id, username, created_at, expires from sessions where id=$1 and expires > now()`,
		id,
	).Scan(&sess.UserID, &sess.Username, &sess.CreatedAt, &sess.Expires); err != nil {
		if err == sql.ErrNoRows {
			return nil, &storage.NotFoundError{ID: id}
		}
		return nil, err
	}

	return &sess, nil
}

func (s *Storage) Put(ctx context.Context, sess *storage.Session) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into sessions (id, user_id, username, created_at, expires)
		values ($1, $2, $3, $4, $5)
		on conflict (id)
		do update set user_id=excluded.user_id, username=excluded.username,
		created_at=excluded.created_at, expires=excluded.expires`,
		sess.ID, sess.UserID, sess.Username, sess.CreatedAt, sess.Expires,
	)
	return err
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(
		ctx,
		`delete from sessions where id=$1`,
		id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return &storage.NotFoundError{ID: id}
	}

	return nil
}

func (s *Storage) GarbageCollect(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Storage) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(ctx, tx); err != nil {
		// Not much we can do about an error here, but at least the database will
		// eventually cancel it on its own if it fails
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

var migrations = []string{
	`create table sessions(
		id text primary key not null,
		user_id text not null,
		username text not null,
		created_at timestamptz not null,
		expires timestamptz not null
	);

	create index sessions_expires on sessions (expires);`,
}
