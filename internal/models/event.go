package models

import (
	"fmt"
	"net/url"
	"time"
)

// FinalizeEvent describes an object that became durably readable in the
// upload bucket.
type FinalizeEvent struct {
	ID             string            `json:"id,omitempty"`
	Bucket         string            `json:"bucket" validate:"required"`
	Name           string            `json:"name" validate:"required"`
	ContentType    string            `json:"contentType,omitempty"`
	SizeBytes      int64             `json:"sizeBytes,omitempty" validate:"gte=0"`
	Generation     string            `json:"generation,omitempty"`
	Metageneration string            `json:"metageneration,omitempty"`
	TimeCreated    time.Time         `json:"timeCreated,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// GSURI is the bucket-path reference of the object.
func (e FinalizeEvent) GSURI() string {
	return fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name)
}

// PublicURL is the storage.googleapis.com form of the object.
func (e FinalizeEvent) PublicURL() string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", e.Bucket, e.Name)
}

// DownloadURLPrefix is the Firebase download URL without its query string.
// Stored download URLs carry ?alt=media&token=..., so lookups match on prefix.
func (e FinalizeEvent) DownloadURLPrefix() string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s", e.Bucket, url.PathEscape(e.Name))
}

// DedupKey identifies one delivery target; a re-upload to the same path gets a
// new generation and is processed again.
func (e FinalizeEvent) DedupKey() string {
	return fmt.Sprintf("%s/%s#%s.%s", e.Bucket, e.Name, e.Generation, e.Metageneration)
}
