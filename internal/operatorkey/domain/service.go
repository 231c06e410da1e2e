package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// Authenticate resolves a raw bearer key to its principal.
	Authenticate(ctx context.Context, raw string) (*Principal, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	List(ctx context.Context) ([]Response, error)
	Revoke(ctx context.Context, id string) error
	// EnsureBootstrap installs the configured bootstrap key when it is not
	// stored yet.
	EnsureBootstrap(ctx context.Context) error
}

// Principal is the authenticated operator behind a request.
type Principal struct {
	KeyID string
	Name  string
	Role  string
}

type CreateRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type Response struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Role       string     `json:"role"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SecretResponse is returned once, at creation.
type SecretResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidKeyFormat = errors.New("invalid_operator_key_format")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidRole      = errors.New("invalid_role")
	ErrInvalidID        = errors.New("invalid_operator_key_id")
	ErrNotFound         = errors.New("operator_key_not_found")
)
