package storage

import (
	"fmt"
	"strings"
	"sync"
)

// UploadPurpose captures high-level intent for storage layout decisions.
type UploadPurpose string

const (
	// PurposePaymentProof stores payment receipts under the invoices bucket.
	PurposePaymentProof UploadPurpose = "payment-proof"
	// PurposeFinalProduct stores finished product photos under the orders bucket.
	PurposeFinalProduct UploadPurpose = "final-product"
	// PurposeProductImage stores catalog imagery under the products bucket.
	PurposeProductImage UploadPurpose = "product-image"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	OrderID   string
	ProductID string
	FileName  string
}

// PathBuilder composes the object path for a given upload purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[UploadPurpose]PathBuilder{
		PurposePaymentProof: buildOrderScopedPath,
		PurposeFinalProduct: buildOrderScopedPath,
		PurposeProductImage: buildProductScopedPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose UploadPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose UploadPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported upload purpose %q", purpose)
	}
	return builder(params)
}

func buildOrderScopedPath(params PathParams) (string, error) {
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", orderID, fileName), nil
}

func buildProductScopedPath(params PathParams) (string, error) {
	productID, err := validateSegment("productID", params.ProductID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", productID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
