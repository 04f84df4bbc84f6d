package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	fbstorage "firebase.google.com/go/v4/storage"
	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/oracle"
)

// MaxImageBytes caps how much of an object is read into memory.
const MaxImageBytes = 20 << 20

// Resolver reads uploaded photos through the Firebase Storage client.
type Resolver struct {
	client *fbstorage.Client
	logger *logrus.Logger
}

func NewResolver(client *fbstorage.Client, logger *logrus.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Fetch implements oracle.Fetcher.
func (r *Resolver) Fetch(ctx context.Context, ref oracle.ObjectRef) ([]byte, string, error) {
	obj, err := r.object(ref)
	if err != nil {
		return nil, "", err
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, "", &oracle.ReferenceResolutionError{
				Ref:    "gs://" + ref.Bucket + "/" + ref.Object,
				Reason: "object does not exist",
			}
		}
		return nil, "", fmt.Errorf("storage: could not open %s/%s: %w", ref.Bucket, ref.Object, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: could not read %s/%s: %w", ref.Bucket, ref.Object, err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", &oracle.ReferenceResolutionError{
			Ref:    "gs://" + ref.Bucket + "/" + ref.Object,
			Reason: fmt.Sprintf("object larger than %d bytes", MaxImageBytes),
		}
	}

	r.logger.WithFields(logrus.Fields{
		"component":    "storage",
		"bucket":       ref.Bucket,
		"object":       ref.Object,
		"bytes":        len(data),
		"content_type": reader.Attrs.ContentType,
	}).Debug("fetched image")

	return data, reader.Attrs.ContentType, nil
}

// Metadata returns the custom metadata of an object; uploads made by the
// consoles carry the owning report id under "reportId".
func (r *Resolver) Metadata(ctx context.Context, bucket, object string) (map[string]string, error) {
	obj, err := r.object(oracle.ObjectRef{Bucket: bucket, Object: object})
	if err != nil {
		return nil, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: could not read attrs of %s/%s: %w", bucket, object, err)
	}
	return attrs.Metadata, nil
}

func (r *Resolver) object(ref oracle.ObjectRef) (*gcs.ObjectHandle, error) {
	bucket, err := r.client.Bucket(ref.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: bucket %s: %w", ref.Bucket, err)
	}
	return bucket.Object(ref.Object), nil
}
