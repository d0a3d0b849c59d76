package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/nimasrn/credit-topup/internal/model"
	"github.com/nimasrn/credit-topup/internal/repository"
)

const HeaderAPIKey = "X-Api-Key"

var (
	ErrMissingCredentials = errors.New("missing api key")
	ErrInvalidCredentials = errors.New("invalid api key")
)

type UserRepository interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*model.User, error)
}

// Resolver turns the API key presented with a request into an Identity.
type Resolver struct {
	users UserRepository
}

func NewResolver(users UserRepository) *Resolver {
	return &Resolver{users: users}
}

func (r *Resolver) Resolve(ctx context.Context, apiKey string) (model.Identity, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return model.Identity{}, ErrMissingCredentials
	}

	u, err := r.users.FindByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.Identity{}, ErrInvalidCredentials
		}
		return model.Identity{}, err
	}

	return model.Identity{
		UserID:   u.ID,
		TenantID: u.TenantID,
		Email:    u.Email,
	}, nil
}

// CanManage reports whether id may act on tenant: the identity belongs to
// exactly this tenant or is its owner.
func CanManage(id model.Identity, tenant *model.Tenant) bool {
	if tenant == nil || tenant.ID == "" {
		return false
	}
	if id.TenantID != "" && id.TenantID == tenant.ID {
		return true
	}
	return id.UserID != "" && id.UserID == tenant.OwnerUserID
}
