package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Manager reads secrets from Google Secret Manager. It is used to resolve
// database credentials that are not provided through the environment.
type Manager struct {
	client    *secretmanager.Client
	projectID string
}

// NewManager creates a Manager for the given GCP project.
func NewManager(ctx context.Context, projectID string, opts ...option.ClientOption) (*Manager, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP project ID is not set")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &Manager{client: client, projectID: projectID}, nil
}

// Secret returns the latest version of the named secret.
func (m *Manager) Secret(ctx context.Context, name string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", m.projectID, name),
	}
	resp, err := m.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(resp.Payload.Data), nil
}

// Close releases the underlying client.
func (m *Manager) Close() error {
	return m.client.Close()
}
