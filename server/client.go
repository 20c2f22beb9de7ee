package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-lifecycle/storage"
)

// LookupClient returns the application registered under the external clientID.
func (s *Server) LookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: empty client_id", ErrNotFound)
	}
	return requireExists(s.clients.GetClientByClientID(ctx, clientID))
}

// AuthenticateClient checks clientSecret against the application registered
// under clientID. An unknown client fails with ErrAuthenticationFailed after
// the same bcrypt comparison a known client costs.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (_ *storage.Client, err error) {
	ctx, _, finish := s.startOperation(ctx, "authenticate_client")
	defer func() { finish(err) }()

	client, err := s.clients.GetClientByClientID(ctx, clientID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	var hash string
	if client != nil {
		hash = client.ClientSecretHash
	}
	if err := requireCredentialsMatch(clientSecret, hash); err != nil {
		s.authFailed(ctx, "client", "", clientID)
		return nil, err
	}
	return client, nil
}

// AuthenticateUser checks password against the user registered under username.
func (s *Server) AuthenticateUser(ctx context.Context, username, password string) (_ *storage.User, err error) {
	ctx, _, finish := s.startOperation(ctx, "authenticate_user")
	defer func() { finish(err) }()

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	var hash, userID string
	if user != nil {
		hash, userID = user.PasswordHash, user.ID
	}
	if err := requireCredentialsMatch(password, hash); err != nil {
		s.authFailed(ctx, "user", userID, "")
		return nil, err
	}
	return user, nil
}

func (s *Server) authFailed(ctx context.Context, principal, userID, clientID string) {
	if s.metrics != nil {
		s.metrics.RecordAuthFailure(ctx, principal)
	}
	s.Auditor.LogAuthFailure(ctx, userID, clientID, "", principal+" authentication failed")
}
