// internal/common/database/firestore.go
package database

import (
	"context"
	"fmt"

	"play-entitlements/internal/common/config"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreClient keeps the Firebase app next to the Firestore client so the
// same app can serve ID-token verification.
type FirestoreClient struct {
	App    *firebase.App
	Client *firestore.Client
}

// NewFirebaseApp initialises the Firebase Admin app for projectID.
func NewFirebaseApp(ctx context.Context, projectID string, opts ...option.ClientOption) (*firebase.App, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}
	return app, nil
}

func NewFirestore(ctx context.Context, cfg config.FirestoreConfig, opts ...option.ClientOption) (*FirestoreClient, error) {
	app, err := NewFirebaseApp(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreClient{App: app, Client: client}, nil
}

// Ping reads a document that is not expected to exist. NotFound proves the
// backend answered.
func (c *FirestoreClient) Ping(ctx context.Context) error {
	_, err := c.Client.Collection("_health").Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

func (c *FirestoreClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
