package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ourea-as/meadstats-api/internal/records"
	"github.com/ourea-as/meadstats-api/internal/untappd"
)

var (
	// ErrUnknownUser indicates the session names a user that is not stored.
	ErrUnknownUser = errors.New("users: unknown user")
	// ErrMissingCode indicates the authorisation callback carried no code.
	ErrMissingCode = errors.New("users: authorization code required")
)

// Store is the persistence surface used for authentication.
type Store interface {
	FindUser(ctx context.Context, id int64) (*records.User, error)
	FindUserByName(ctx context.Context, name string) (*records.User, error)
	CreateUser(ctx context.Context, user *records.User) (*records.User, error)
	UpdateAccessToken(ctx context.Context, userID int64, token string) error
}

// Authorizer exchanges OAuth codes and identifies token owners.
type Authorizer interface {
	Authenticate(ctx context.Context, code, redirectURL string) (string, error)
	UserInfo(ctx context.Context, username, accessToken string) (untappd.UserProfile, error)
}

// ServiceConfig describes the dependencies required for Untappd authentication.
type ServiceConfig struct {
	Store       Store
	Authorizer  Authorizer
	RedirectURL string
	Logger      *zap.Logger
}

// Service signs users in with Untappd and resolves session subjects to stored users.
type Service struct {
	store       Store
	authorizer  Authorizer
	redirectURL string
	logger      *zap.Logger
}

// NewService constructs the authentication service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("users: record store required")
	}
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("users: untappd authorizer required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       cfg.Store,
		authorizer:  cfg.Authorizer,
		redirectURL: normalize(cfg.RedirectURL),
		logger:      logger,
	}, nil
}

// Authenticate exchanges code for an Untappd credential and stores it on the token owner,
// creating the user on first sign-in.
func (s *Service) Authenticate(ctx context.Context, code string) (*records.User, error) {
	if normalize(code) == "" {
		return nil, ErrMissingCode
	}
	token, err := s.authorizer.Authenticate(ctx, code, s.redirectURL)
	if err != nil {
		return nil, fmt.Errorf("users: exchange code: %w", err)
	}
	profile, err := s.authorizer.UserInfo(ctx, "", token)
	if err != nil {
		return nil, fmt.Errorf("users: fetch token owner: %w", err)
	}

	existing, err := s.store.FindUser(ctx, profile.UID)
	if errors.Is(err, records.ErrNotFound) {
		candidate := userFromProfile(profile, token)
		created, createErr := s.store.CreateUser(ctx, &candidate)
		if createErr != nil {
			return nil, fmt.Errorf("users: create user: %w", createErr)
		}
		if created.AccessToken != token {
			if err := s.store.UpdateAccessToken(ctx, created.ID, token); err != nil {
				return nil, fmt.Errorf("users: store token: %w", err)
			}
			created.AccessToken = token
		}
		s.logger.Info("added token for user", zap.String("username", created.UserName))
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: lookup user: %w", err)
	}

	if existing.AccessToken != token {
		if err := s.store.UpdateAccessToken(ctx, existing.ID, token); err != nil {
			return nil, fmt.Errorf("users: store token: %w", err)
		}
		existing.AccessToken = token
		s.logger.Info("updated token for user", zap.String("username", existing.UserName))
	}
	return existing, nil
}

// ResolveSessionUser loads the user named by a session token subject.
func (s *Service) ResolveSessionUser(ctx context.Context, userName string) (*records.User, error) {
	name := normalize(userName)
	if name == "" {
		return nil, ErrUnknownUser
	}
	user, err := s.store.FindUserByName(ctx, name)
	if errors.Is(err, records.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("users: lookup session user: %w", err)
	}
	return user, nil
}
