package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/fabrica-ops/api/internal/platform/firestore"
	"github.com/fabrica-ops/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repository
// registry interface consumed by services.
type Registry struct {
	provider   *pfirestore.Provider
	orders     *OrderRepository
	orderItems *OrderItemRepository
	products   *ProductRepository
	categories *CategoryRepository
	users      *UserRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry on top of a shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}
	if health == nil {
		return nil, errors.New("registry: health repository is required")
	}

	orderItems, err := NewOrderItemRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider, orderItems)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	categories, err := NewCategoryRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:   provider,
		orders:     orders,
		orderItems: orderItems,
		products:   products,
		categories: categories,
		users:      users,
		health:     health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) OrderItems() repositories.OrderItemRepository { return r.orderItems }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Categories() repositories.CategoryRepository  { return r.categories }
func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// RunInTx executes fn inside a Firestore transaction. Repository calls made
// through the registry do not automatically join the transaction; fn should
// group mutations that must fail together.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
