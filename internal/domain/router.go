package domain

import (
	"context"
	"time"
)

// Router is a read model of a deployed hotspot router. Device provisioning
// and config sync happen outside this service; billing only needs to know
// which account owns the router a purchase arrives from.
type Router struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	AccountID string    `bson:"account_id" json:"account_id"`
	Name      string    `bson:"name" json:"name"`
	Host      string    `bson:"host,omitempty" json:"host,omitempty"`
	Status    string    `bson:"status,omitempty" json:"status,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type RouterRepository interface {
	Create(ctx context.Context, router *Router) error
	GetByID(ctx context.Context, id string) (*Router, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Router, error)
}
