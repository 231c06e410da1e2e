package authorization

import (
	"context"
	"errors"
)

// Service decides whether an operator principal may perform an action.
type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}

// Actor is the authenticated caller; Role comes from the operator key.
type Actor struct {
	Type string
	ID   string
	Role string
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
