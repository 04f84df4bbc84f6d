package oracle

import (
	"net/url"
	"regexp"
	"strings"
)

// ObjectRef addresses one object in the object store.
type ObjectRef struct {
	Bucket string
	Object string
}

// matches /b/<bucket>/o/<escaped object> in Firebase download URLs and JSON API URLs
var apiObjectPath = regexp.MustCompile(`/b/([^/]+)/o/([^?#]+)`)

// ParseReference maps a stored image reference to a bucket and object name.
// Accepted shapes:
//
//	gs://bucket/path/to/object
//	https://firebasestorage.googleapis.com/v0/b/bucket/o/path%2Fto%2Fobject?alt=media&token=...
//	https://storage.googleapis.com/storage/v1/b/bucket/o/path%2Fto%2Fobject
//	https://storage.googleapis.com/bucket/path/to/object
//	https://storage.cloud.google.com/bucket/path/to/object
//	path/to/object (resolved against defaultBucket)
func ParseReference(ref, defaultBucket string) (ObjectRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: "empty reference"}
	}

	if strings.HasPrefix(ref, "gs://") {
		bucket, object, ok := strings.Cut(strings.TrimPrefix(ref, "gs://"), "/")
		if !ok || bucket == "" || object == "" {
			return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: "missing bucket or object path"}
		}
		return ObjectRef{Bucket: bucket, Object: object}, nil
	}

	if !strings.Contains(ref, "://") {
		if defaultBucket == "" {
			return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: "bare path without a default bucket"}
		}
		return ObjectRef{Bucket: defaultBucket, Object: strings.TrimPrefix(ref, "/")}, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: err.Error()}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: "unsupported scheme " + u.Scheme}
	}

	switch u.Host {
	case "firebasestorage.googleapis.com", "storage.googleapis.com":
		if m := apiObjectPath.FindStringSubmatch(u.EscapedPath()); m != nil {
			object, err := url.PathUnescape(m[2])
			if err != nil {
				return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: err.Error()}
			}
			return ObjectRef{Bucket: m[1], Object: object}, nil
		}
		if u.Host == "storage.googleapis.com" {
			return splitBucketPath(ref, u.Path)
		}
	case "storage.cloud.google.com":
		return splitBucketPath(ref, u.Path)
	}

	return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: "unsupported URL format"}
}

func splitBucketPath(ref, path string) (ObjectRef, error) {
	bucket, object, ok := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !ok || bucket == "" || object == "" {
		return ObjectRef{}, &ReferenceResolutionError{Ref: ref, Reason: "missing bucket or object path"}
	}
	return ObjectRef{Bucket: bucket, Object: object}, nil
}
