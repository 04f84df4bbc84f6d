package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// FirebaseCredentials selects where the service account comes from. Base64
// wins over the file; with neither, application default credentials apply.
type FirebaseCredentials struct {
	ProjectID     string
	StorageBucket string
	Base64JSON    string
	File          string
}

func (c FirebaseCredentials) clientOptions() ([]option.ClientOption, error) {
	if c.Base64JSON != "" {
		credentialsJSON, err := base64.StdEncoding.DecodeString(c.Base64JSON)
		if err != nil {
			return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(credentialsJSON)}, nil
	}
	if c.File != "" {
		if _, err := os.Stat(c.File); err == nil {
			return []option.ClientOption{option.WithCredentialsFile(c.File)}, nil
		}
	}
	return nil, nil
}

// NewFirebaseApp initializes the Firebase app shared by the Firestore,
// Storage and messaging clients.
func NewFirebaseApp(ctx context.Context, creds FirebaseCredentials) (*firebase.App, error) {
	opts, err := creds.clientOptions()
	if err != nil {
		return nil, err
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     creds.ProjectID,
		StorageBucket: creds.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	return app, nil
}
