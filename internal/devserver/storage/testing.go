package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// Test runs the conformance suite against s. Subtests use distinct session
// IDs, so s may be shared between them.
func Test(ctx context.Context, t *testing.T, s Storage) {
	t.Run("testNonexistingGet", func(t *testing.T) { testNonexistingGet(ctx, t, s) })
	t.Run("testPutGetDelete", func(t *testing.T) { testPutGetDelete(ctx, t, s) })
	t.Run("testReplace", func(t *testing.T) { testReplace(ctx, t, s) })
	t.Run("testExpiry", func(t *testing.T) { testExpiry(ctx, t, s) })
	t.Run("testGarbageCollect", func(t *testing.T) { testGarbageCollect(ctx, t, s) })
}

func newSession(id string, expires time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    "user-" + id,
		Username:  "octocat",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Expires:   expires.UTC().Truncate(time.Second),
	}
}

func testNonexistingGet(ctx context.Context, t *testing.T, s Storage) {
	_, err := s.Get(ctx, "testNonexistingGet")
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}

	err = s.Delete(ctx, "testNonexistingGet")
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testPutGetDelete(ctx context.Context, t *testing.T, s Storage) {
	want := newSession("testPutGetDelete", time.Now().Add(time.Hour))

	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	got, err := s.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Error(diff)
	}

	if err := s.Delete(ctx, want.ID); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	_, err = s.Get(ctx, want.ID)
	if !IsNotFoundErr(err) {
		t.Fatalf("Want: NotFoundError, got %v", err)
	}
}

func testReplace(ctx context.Context, t *testing.T, s Storage) {
	sess := newSession("testReplace", time.Now().Add(time.Hour))
	if err := s.Put(ctx, sess); err != nil {
		t.Fatal(err)
	}

	sess.Username = "hubot"
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "hubot" {
		t.Errorf("want: hubot got: %s", got.Username)
	}
}

func testExpiry(ctx context.Context, t *testing.T, s Storage) {
	if err := s.Put(ctx, newSession("testExpiry", time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	_, err := s.Get(ctx, "testExpiry")
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testGarbageCollect(ctx context.Context, t *testing.T, s Storage) {
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, newSession(fmt.Sprintf("testGarbageCollect-expired-%d", i), now.Add(-time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(ctx, newSession("testGarbageCollect-live", now.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	n, err := s.GarbageCollect(ctx, now)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	// other subtests may have left expired sessions behind
	if n < 3 {
		t.Errorf("Want: at least 3 collected, got %d", n)
	}

	if _, err := s.Get(ctx, "testGarbageCollect-live"); err != nil {
		t.Errorf("Want: live session kept, got %v", err)
	}
	if err := s.Delete(ctx, "testGarbageCollect-expired-0"); !IsNotFoundErr(err) {
		t.Errorf("Want: expired session removed, got %v", err)
	}
}
