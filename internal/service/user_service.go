package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/shinyyama/rental-backend/internal/repository"
	"gorm.io/gorm"
)

// Identity is what the identity provider knows about a signed-in user.
type Identity struct {
	UID       string
	Name      string
	Email     string
	AvatarURL string
}

type UserService interface {
	Get(ctx context.Context, id uint64) (*model.User, error)
	// Resolve maps a provider identity to a local user, creating the row on
	// first sign-in.
	Resolve(ctx context.Context, ident Identity) (*model.User, error)
}

type userService struct {
	repo repository.UserRepository
}

func NewUserService(repo repository.UserRepository) UserService {
	return &userService{repo: repo}
}

func (s *userService) Get(ctx context.Context, id uint64) (*model.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *userService) Resolve(ctx context.Context, ident Identity) (*model.User, error) {
	if ident.UID == "" {
		return nil, errors.New("identity has no uid")
	}
	u, err := s.repo.FindByFirebaseUID(ctx, ident.UID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	uid := ident.UID
	u = &model.User{
		FirebaseUID: &uid,
		Name:        displayName(ident),
		Email:       ident.Email,
	}
	if ident.AvatarURL != "" {
		avatar := ident.AvatarURL
		u.AvatarURL = &avatar
	}
	if err := s.repo.Create(ctx, u); err != nil {
		// Two first requests can race; the loser reads the winner's row.
		if existing, findErr := s.repo.FindByFirebaseUID(ctx, ident.UID); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("provision user: %w", err)
	}
	return u, nil
}

func displayName(ident Identity) string {
	if n := strings.TrimSpace(ident.Name); n != "" {
		return n
	}
	if at := strings.IndexByte(ident.Email, '@'); at > 0 {
		return ident.Email[:at]
	}
	return "user"
}
