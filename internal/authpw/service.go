// Package authpw provides email/password identity provisioning for board
// callers. It is a thin collaborator of the board engine: its one hard
// obligation is that every user it hands out has an access profile.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowboard/api/internal/region"
	"flowboard/api/internal/store"
	"flowboard/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// UserStore defines the storage interface for identity provisioning.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	EnsureProfile(ctx context.Context, userID, defaultRegion string) (store.Profile, error)
}

// Service provides email/password sign-up and sign-in.
type Service struct {
	store         UserStore
	regions       *region.Registry
	defaultRegion string
}

// NewService creates an identity service. defaultRegion is used for profile
// repair when a user somehow exists without one.
func NewService(userStore UserStore, regions *region.Registry, defaultRegion string) *Service {
	return &Service{
		store:         userStore,
		regions:       regions,
		defaultRegion: defaultRegion,
	}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	Region      string
}

// SignUp creates a new user account and, as an explicit post-creation step,
// its access profile. There is no implicit hook: the profile write happens
// right here, and readers repair a missing one via EnsureProfile.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	displayName := strings.TrimSpace(req.DisplayName)

	if email == "" || req.Password == "" || displayName == "" {
		return store.User{}, errors.New("email, password, and display name are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}
	if !s.regions.Valid(req.Region) {
		return store.User{}, fmt.Errorf("unknown region %q", req.Region)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Region:       req.Region,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	profile, err := s.store.EnsureProfile(ctx, user.ID, req.Region)
	if err != nil {
		return store.User{}, fmt.Errorf("provision profile: %w", err)
	}
	user.Region = profile.Region

	return user, nil
}

// SignInRequest contains sign-in parameters.
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn verifies credentials and returns the user with its profile region
// attached, repairing a missing profile on the way.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	return s.Resolve(ctx, user.ID)
}

// Resolve loads a user by ID and guarantees the access profile invariant
// before handing the user to the board engine.
func (s *Service) Resolve(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}

	fallback := user.Region
	if fallback == "" {
		fallback = s.defaultRegion
	}
	profile, err := s.store.EnsureProfile(ctx, user.ID, fallback)
	if err != nil {
		return store.User{}, fmt.Errorf("repair profile: %w", err)
	}
	user.Region = profile.Region

	return user, nil
}
