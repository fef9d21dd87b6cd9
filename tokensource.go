package loopauth

import (
	"context"

	"golang.org/x/oauth2"
)

type oauth2Source struct {
	ctx context.Context
	src SessionSource
}

// TokenSource exposes a SessionSource as an oauth2.TokenSource, so session
// tokens can be used with oauth2.NewClient and friends. Tokens are bearer
// tokens without an expiry; wrap src in a CachingSource to avoid a login per
// call.
func TokenSource(ctx context.Context, src SessionSource) oauth2.TokenSource {
	return &oauth2Source{ctx: ctx, src: src}
}

func (s *oauth2Source) Token() (*oauth2.Token, error) {
	token, err := s.src.Authenticate(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}, nil
}
