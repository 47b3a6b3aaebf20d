package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/fabrica-ops/api/internal/platform/storage"
)

// ObjectUploader writes object bytes to a bucket and reports the resulting
// public URL. Implemented by the GCS-backed platform uploader.
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) (storage.UploadedObject, error)
}

// ProductImageStore persists catalog imagery.
type ProductImageStore interface {
	StoreProductImage(ctx context.Context, productID string, upload AttachmentUpload) (string, error)
}

// AttachmentService combines order attachment and catalog image storage.
type AttachmentService interface {
	AttachmentStore
	ProductImageStore
}

// AttachmentBuckets names the destination bucket per attachment kind.
type AttachmentBuckets struct {
	Orders   string
	Invoices string
	Products string
}

// AttachmentServiceDeps bundles collaborators for the attachment store.
type AttachmentServiceDeps struct {
	Uploader    ObjectUploader
	Buckets     AttachmentBuckets
	IDGenerator func() string
}

type attachmentService struct {
	uploader ObjectUploader
	buckets  AttachmentBuckets
	newID    func() string
}

// NewAttachmentService constructs the storage-backed attachment store used by
// the order and catalog services.
func NewAttachmentService(deps AttachmentServiceDeps) (AttachmentService, error) {
	if deps.Uploader == nil {
		return nil, errors.New("attachment service: uploader is required")
	}
	if strings.TrimSpace(deps.Buckets.Orders) == "" || strings.TrimSpace(deps.Buckets.Invoices) == "" {
		return nil, errors.New("attachment service: order and invoice buckets are required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &attachmentService{
		uploader: deps.Uploader,
		buckets:  deps.Buckets,
		newID:    idGen,
	}, nil
}

// Store uploads a single attachment under a fresh ULID-based object name and
// returns its public URL.
func (s *attachmentService) Store(ctx context.Context, dest AttachmentDestination, orderID string, upload AttachmentUpload) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", errors.New("attachment service: order id is required")
	}
	if len(upload.Data) == 0 {
		return "", fmt.Errorf("attachment service: file %q is empty", upload.FileName)
	}

	purpose, bucket, err := s.resolveDestination(dest)
	if err != nil {
		return "", err
	}

	object, err := storage.BuildObjectPath(purpose, storage.PathParams{
		OrderID:  orderID,
		FileName: s.objectFileName(upload.FileName),
	})
	if err != nil {
		return "", err
	}

	stored, err := s.uploader.Upload(ctx, bucket, object, upload.ContentType, bytes.NewReader(upload.Data))
	if err != nil {
		return "", fmt.Errorf("attachment service: upload %s: %w", object, err)
	}
	return stored.PublicURL, nil
}

// StoreProductImage uploads a catalog image for the product and returns its
// public URL.
func (s *attachmentService) StoreProductImage(ctx context.Context, productID string, upload AttachmentUpload) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", errors.New("attachment service: product id is required")
	}
	if len(upload.Data) == 0 {
		return "", fmt.Errorf("attachment service: file %q is empty", upload.FileName)
	}
	if strings.TrimSpace(s.buckets.Products) == "" {
		return "", errors.New("attachment service: product bucket not configured")
	}

	object, err := storage.BuildObjectPath(storage.PurposeProductImage, storage.PathParams{
		ProductID: productID,
		FileName:  s.objectFileName(upload.FileName),
	})
	if err != nil {
		return "", err
	}

	stored, err := s.uploader.Upload(ctx, s.buckets.Products, object, upload.ContentType, bytes.NewReader(upload.Data))
	if err != nil {
		return "", fmt.Errorf("attachment service: upload %s: %w", object, err)
	}
	return stored.PublicURL, nil
}

func (s *attachmentService) resolveDestination(dest AttachmentDestination) (storage.UploadPurpose, string, error) {
	switch dest {
	case DestinationPaymentProof:
		return storage.PurposePaymentProof, s.buckets.Invoices, nil
	case DestinationFinalProduct:
		return storage.PurposeFinalProduct, s.buckets.Orders, nil
	default:
		return "", "", fmt.Errorf("attachment service: unknown destination %q", dest)
	}
}

// objectFileName derives a collision-free object name, keeping only the
// original extension.
func (s *attachmentService) objectFileName(fileName string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(fileName)))
	return s.newID() + ext
}
