package sql

import (
	"time"

	"github.com/giantswarm/oauth-lifecycle/storage"
)

type authorizationCodeRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	ClientID    string `gorm:"not null;index"`
	RedirectURI string `gorm:"not null"`
	UserID      string `gorm:"not null"`
	Scope       string
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"not null;index"`
}

func (authorizationCodeRow) TableName() string { return "authorization_codes" }

func fromAuthorizationCode(c *storage.AuthorizationCode) *authorizationCodeRow {
	return &authorizationCodeRow{
		ID:          c.ID,
		ClientID:    c.ClientID,
		RedirectURI: c.RedirectURI,
		UserID:      c.UserID,
		Scope:       c.Scope,
		CreatedAt:   c.CreatedAt.UTC(),
		ExpiresAt:   c.ExpiresAt.UTC(),
	}
}

func (r *authorizationCodeRow) record() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		ID:          r.ID,
		ClientID:    r.ClientID,
		RedirectURI: r.RedirectURI,
		UserID:      r.UserID,
		Scope:       r.Scope,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
}

type accessTokenRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index"`
	ClientID  string `gorm:"not null;index"`
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (accessTokenRow) TableName() string { return "access_tokens" }

func fromAccessToken(t *storage.AccessToken) *accessTokenRow {
	return &accessTokenRow{
		ID:        t.ID,
		UserID:    t.UserID,
		ClientID:  t.ClientID,
		Scope:     t.Scope,
		CreatedAt: t.CreatedAt.UTC(),
		ExpiresAt: t.ExpiresAt.UTC(),
	}
}

func (r *accessTokenRow) record() *storage.AccessToken {
	return &storage.AccessToken{
		ID:        r.ID,
		UserID:    r.UserID,
		ClientID:  r.ClientID,
		Scope:     r.Scope,
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
	}
}

type refreshTokenRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"not null;index"`
	ClientID  string `gorm:"not null;index"`
	Scope     string
	CreatedAt time.Time
}

func (refreshTokenRow) TableName() string { return "refresh_tokens" }

func fromRefreshToken(t *storage.RefreshToken) *refreshTokenRow {
	return &refreshTokenRow{
		ID:        t.ID,
		UserID:    t.UserID,
		ClientID:  t.ClientID,
		Scope:     t.Scope,
		CreatedAt: t.CreatedAt.UTC(),
	}
}

func (r *refreshTokenRow) record() *storage.RefreshToken {
	return &storage.RefreshToken{
		ID:        r.ID,
		UserID:    r.UserID,
		ClientID:  r.ClientID,
		Scope:     r.Scope,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type clientRow struct {
	ID               string `gorm:"primaryKey;size:64"`
	Name             string
	ClientID         string `gorm:"uniqueIndex;not null;size:255"`
	ClientSecretHash string
	RedirectURI      string
	CreatedAt        time.Time
}

func (clientRow) TableName() string { return "clients" }

func fromClient(c *storage.Client) *clientRow {
	return &clientRow{
		ID:               c.ID,
		Name:             c.Name,
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		RedirectURI:      c.RedirectURI,
		CreatedAt:        c.CreatedAt.UTC(),
	}
}

func (r *clientRow) record() *storage.Client {
	return &storage.Client{
		ID:               r.ID,
		Name:             r.Name,
		ClientID:         r.ClientID,
		ClientSecretHash: r.ClientSecretHash,
		RedirectURI:      r.RedirectURI,
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

type userRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"uniqueIndex;not null;size:255"`
	PasswordHash string
	Name         string
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

func fromUser(u *storage.User) *userRow {
	return &userRow{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		CreatedAt:    u.CreatedAt.UTC(),
	}
}

func (r *userRow) record() *storage.User {
	return &storage.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		Name:         r.Name,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}
