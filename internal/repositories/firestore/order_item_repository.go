package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/fabrica-ops/api/internal/domain"
	pfirestore "github.com/fabrica-ops/api/internal/platform/firestore"
)

const orderItemsCollection = "items"

// OrderItemRepository persists order line items as a subcollection of the
// owning order document.
type OrderItemRepository struct {
	provider *pfirestore.Provider
}

// NewOrderItemRepository constructs a Firestore-backed order item repository.
func NewOrderItemRepository(provider *pfirestore.Provider) (*OrderItemRepository, error) {
	if provider == nil {
		return nil, errors.New("order item repository: firestore provider is required")
	}
	return &OrderItemRepository{provider: provider}, nil
}

// InsertAll writes all line items for the order in a single batch.
func (r *OrderItemRepository) InsertAll(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if r == nil || r.provider == nil {
		return errors.New("order item repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order item repository: order id is required")
	}
	if len(items) == 0 {
		return nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(ordersCollection).Doc(orderID).Collection(orderItemsCollection)

	batch := client.Batch()
	for _, item := range items {
		itemID := strings.TrimSpace(item.ID)
		if itemID == "" {
			return errors.New("order item repository: item id is required")
		}
		batch.Create(ref.Doc(itemID), encodeOrderItem(item))
	}
	if _, err := batch.Commit(ctx); err != nil {
		return pfirestore.WrapError("order_items.insert_all", err)
	}
	return nil
}

// List returns the order's line items ordered by creation time.
func (r *OrderItemRepository) List(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order item repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order item repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	ref := client.Collection(ordersCollection).Doc(orderID).Collection(orderItemsCollection)

	iter := ref.OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var items []domain.OrderItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("order_items.list", err)
		}
		var doc orderItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("order_items.decode", err)
		}
		items = append(items, decodeOrderItem(snap.Ref.ID, doc, snap.CreateTime))
	}
	return items, nil
}

// DeleteAll removes every line item belonging to the order.
func (r *OrderItemRepository) DeleteAll(ctx context.Context, orderID string) error {
	if r == nil || r.provider == nil {
		return errors.New("order item repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order item repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(ordersCollection).Doc(orderID).Collection(orderItemsCollection)

	iter := ref.Select().Documents(ctx)
	defer iter.Stop()

	batch := client.Batch()
	pending := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return pfirestore.WrapError("order_items.delete_all", err)
		}
		batch.Delete(snap.Ref)
		pending++
	}
	if pending == 0 {
		return nil
	}
	if _, err := batch.Commit(ctx); err != nil {
		return pfirestore.WrapError("order_items.delete_all", err)
	}
	return nil
}

// ExistsByProduct reports whether any line item across all orders references
// the product. Backed by a collection group query over item subcollections.
func (r *OrderItemRepository) ExistsByProduct(ctx context.Context, productID string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order item repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, errors.New("order item repository: product id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}

	iter := client.CollectionGroup(orderItemsCollection).
		Where("productId", "==", productID).
		Limit(1).
		Select().
		Documents(ctx)
	defer iter.Stop()

	_, err = iter.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, pfirestore.WrapError("order_items.exists_by_product", err)
	}
	return true, nil
}

type orderItemDocument struct {
	ProductID   *string   `firestore:"productId"`
	ProductName string    `firestore:"productName"`
	Quantity    int       `firestore:"quantity"`
	UnitPrice   int64     `firestore:"unitPrice"`
	TotalPrice  *int64    `firestore:"totalPrice"`
	Notes       string    `firestore:"notes"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func encodeOrderItem(item domain.OrderItem) orderItemDocument {
	doc := orderItemDocument{
		ProductID:   trimPointer(item.ProductID),
		ProductName: strings.TrimSpace(item.ProductName),
		Quantity:    item.Quantity,
		UnitPrice:   int64(item.UnitPrice),
		Notes:       strings.TrimSpace(item.Notes),
		CreatedAt:   item.CreatedAt.UTC(),
	}
	if item.TotalPrice != nil {
		total := int64(*item.TotalPrice)
		doc.TotalPrice = &total
	}
	return doc
}

func decodeOrderItem(id string, doc orderItemDocument, createdAt time.Time) domain.OrderItem {
	item := domain.OrderItem{
		ID:          strings.TrimSpace(id),
		ProductID:   trimPointer(doc.ProductID),
		ProductName: strings.TrimSpace(doc.ProductName),
		Quantity:    doc.Quantity,
		UnitPrice:   domain.Money(doc.UnitPrice),
		Notes:       strings.TrimSpace(doc.Notes),
		CreatedAt:   chooseTime(doc.CreatedAt, createdAt),
	}
	if doc.TotalPrice != nil {
		total := domain.Money(*doc.TotalPrice)
		item.TotalPrice = &total
	}
	return item
}
