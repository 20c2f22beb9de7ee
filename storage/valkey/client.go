package valkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth-lifecycle/storage"
)

// luaRegisterIndexed writes a directory record and its lookup index in one
// step, refusing if either key is taken.
//
// KEYS[1] = record key (e.g. "oauth:client:app-1")
// KEYS[2] = index key  (e.g. "oauth:clientid:ext-1")
// ARGV[1] = encoded record
// ARGV[2] = record id stored in the index
//
// Returns:
//   - "OK" on success
//   - "EXISTS:record" if the record key is taken
//   - "EXISTS:index" if the index key is taken
const luaRegisterIndexed = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 'EXISTS:record'
end
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 'EXISTS:index'
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 'OK'
`

// registerIndexed runs luaRegisterIndexed and maps its result.
func (s *Store) registerIndexed(ctx context.Context, recordKey, indexKey string, record any, id, what, indexed string) error {
	data, err := s.encode(ctx, record)
	if err != nil {
		return err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRegisterIndexed).
			Numkeys(2).
			Key(recordKey, indexKey).
			Arg(data, id).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", what, err)
	}

	switch {
	case result == "OK":
		return nil
	case strings.HasSuffix(result, ":record"):
		return fmt.Errorf("%w: %s %s", storage.ErrAlreadyExists, what, id)
	default:
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, indexed)
	}
}

// lookupIndexed resolves an index key to the id it points at.
func (s *Store) lookupIndexed(ctx context.Context, indexKey, what, value string) (string, error) {
	id, err := s.client.Do(ctx, s.client.B().Get().Key(indexKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, value)
		}
		return "", fmt.Errorf("failed to look up %s: %w", what, err)
	}
	return id, nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient registers an application. Both Client.ID and Client.ClientID must be unused.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, finish := s.instrument(ctx, "save_client")
	defer func() { finish(err) }()

	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateID(client.ID, "client id"); err != nil {
		return err
	}
	if err := validateID(client.ClientID, "client_id"); err != nil {
		return err
	}

	err = s.registerIndexed(ctx, s.clientKey(client.ID), s.clientIDKey(client.ClientID),
		client, client.ID, "client", "client_id "+client.ClientID)
	if err != nil {
		return err
	}
	s.logger.Debug("Saved client", "id", client.ID, "client_id", client.ClientID)
	return nil
}

// GetClient looks an application up by Client.ID
func (s *Store) GetClient(ctx context.Context, id string) (_ *storage.Client, err error) {
	ctx, finish := s.instrument(ctx, "get_client")
	defer func() { finish(err) }()

	return getRecord[storage.Client](ctx, s, s.clientKey(id), "client", id)
}

// GetClientByClientID looks an application up by its external client_id
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, finish := s.instrument(ctx, "get_client_by_client_id")
	defer func() { finish(err) }()

	id, err := s.lookupIndexed(ctx, s.clientIDKey(clientID), "client_id", clientID)
	if err != nil {
		return nil, err
	}
	return getRecord[storage.Client](ctx, s, s.clientKey(id), "client", id)
}

// ============================================================
// UserStore Implementation
// ============================================================

// SaveUser registers a resource owner. Both User.ID and User.Username must be unused.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	ctx, finish := s.instrument(ctx, "save_user")
	defer func() { finish(err) }()

	if user == nil {
		return fmt.Errorf("invalid user")
	}
	if err := validateID(user.ID, "user id"); err != nil {
		return err
	}
	if err := validateID(user.Username, "username"); err != nil {
		return err
	}

	err = s.registerIndexed(ctx, s.userKey(user.ID), s.usernameKey(user.Username),
		user, user.ID, "user", "username "+user.Username)
	if err != nil {
		return err
	}
	s.logger.Debug("Saved user", "id", user.ID)
	return nil
}

// GetUser looks an owner up by User.ID
func (s *Store) GetUser(ctx context.Context, id string) (_ *storage.User, err error) {
	ctx, finish := s.instrument(ctx, "get_user")
	defer func() { finish(err) }()

	return getRecord[storage.User](ctx, s, s.userKey(id), "user", id)
}

// GetUserByUsername looks an owner up by login name
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, finish := s.instrument(ctx, "get_user_by_username")
	defer func() { finish(err) }()

	id, err := s.lookupIndexed(ctx, s.usernameKey(username), "username", username)
	if err != nil {
		return nil, err
	}
	return getRecord[storage.User](ctx, s, s.userKey(id), "user", id)
}
