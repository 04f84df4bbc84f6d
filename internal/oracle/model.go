package oracle

//go:generate mockgen -source=model.go -destination=mocks/mock_model.go -package=mocks

import "context"

// Image is one photo handed to the model.
type Image struct {
	Data     []byte
	MIMEType string
}

// Model is a vision-language model that answers an instruction about one or
// more images with free text. Image order is significant.
type Model interface {
	Judge(ctx context.Context, images []Image, instruction string) (string, error)
}

// Fetcher reads object bytes and their content type from the object store.
type Fetcher interface {
	Fetch(ctx context.Context, ref ObjectRef) ([]byte, string, error)
}
