package repositories

import (
	"context"

	"github.com/satriahrh/azscribe/domain/entities"
)

// AssetResolver resolves a media package to the organization of its latest snapshot
type AssetResolver interface {
	// ResolveOrganization returns domain.ErrNotArchived when no snapshot exists yet
	ResolveOrganization(ctx context.Context, mediaPackageID string) (string, error)
}

// WorkflowLauncher starts workflows on the external workflow engine.
// The organization is taken from the context (domain.WithOrganization).
type WorkflowLauncher interface {
	// StartWorkflow returns the workflow instance id, or "" if nothing was started
	StartWorkflow(ctx context.Context, definitionID, mediaPackageID string, params map[string]string) (string, error)
}

// EventPublisher receives job status changes
type EventPublisher interface {
	Publish(event entities.JobEvent)
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(entities.JobEvent) {}
