package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const publicURLHost = "https://storage.googleapis.com"

// Uploader writes objects to Cloud Storage buckets and reports the resulting
// public URL.
type Uploader struct {
	client *gcs.Client
}

// NewUploader constructs an Uploader backed by the provided Cloud Storage client.
func NewUploader(client *gcs.Client) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	return &Uploader{client: client}, nil
}

// UploadedObject describes a stored object after a successful write.
type UploadedObject struct {
	Bucket    string
	Object    string
	PublicURL string
	Size      int64
}

// Upload streams the reader's bytes into bucket/object. The write is aborted
// when the context is cancelled, leaving no partial object behind.
func (u *Uploader) Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) (UploadedObject, error) {
	if u == nil || u.client == nil {
		return UploadedObject{}, errors.New("storage uploader: client is not initialised")
	}

	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" {
		return UploadedObject{}, errInvalidBucket
	}
	if object == "" {
		return UploadedObject{}, errInvalidObject
	}
	if body == nil {
		return UploadedObject{}, errors.New("storage uploader: body is required")
	}

	writer := u.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	written, err := io.Copy(writer, body)
	if err != nil {
		_ = writer.Close()
		return UploadedObject{}, fmt.Errorf("storage uploader: write %s/%s: %w", bucket, object, err)
	}
	if err := writer.Close(); err != nil {
		return UploadedObject{}, fmt.Errorf("storage uploader: finalize %s/%s: %w", bucket, object, err)
	}

	return UploadedObject{
		Bucket:    bucket,
		Object:    object,
		PublicURL: PublicURL(bucket, object),
		Size:      written,
	}, nil
}

// Delete removes the object, ignoring missing objects.
func (u *Uploader) Delete(ctx context.Context, bucket, object string) error {
	if u == nil || u.client == nil {
		return errors.New("storage uploader: client is not initialised")
	}
	err := u.client.Bucket(strings.TrimSpace(bucket)).Object(strings.TrimSpace(object)).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

// PublicURL returns the canonical public URL for an object.
func PublicURL(bucket, object string) string {
	segments := strings.Split(object, "/")
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return fmt.Sprintf("%s/%s/%s", publicURLHost, bucket, strings.Join(escaped, "/"))
}
