package memory

import (
	"context"
	"testing"

	"github.com/heroku/loopauth/internal/devserver/storage"
)

func TestStorage(t *testing.T) {
	storage.Test(context.Background(), t, New())
}
