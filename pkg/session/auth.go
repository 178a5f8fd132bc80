package session

import (
	"context"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/store"
)

// RepoAuthenticator resolves tokens against the user repository, treating
// the token as the subject ID. Deployments that issue signed tokens put
// their verifier in front and hand the extracted subject through.
type RepoAuthenticator struct {
	repo store.Repository
}

func NewRepoAuthenticator(repo store.Repository) *RepoAuthenticator {
	return &RepoAuthenticator{repo: repo}
}

// Authenticate looks the subject up. Misses are reported as forbidden
// rather than not-found so callers close the socket with an auth code.
func (a *RepoAuthenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.Forbiddenf("missing token")
	}
	user, err := a.repo.GetUser(ctx, token)
	if err != nil {
		return nil, models.Forbiddenf("invalid token")
	}
	return user, nil
}
