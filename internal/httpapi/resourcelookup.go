package httpapi

import (
	"context"

	"knowledge-hub/internal/authz"
	"knowledge-hub/internal/model"
)

// FileRepository is the slice of repository.Repository this lookup needs.
type FileRepository interface {
	GetFileRecordByFingerprint(ctx context.Context, fingerprint string) (*model.FileRecord, error)
}

// fileLookup adapts a FileRecord to authz.ResourceLookup, resolving a
// document fingerprint to the (owner, scopeTag, isPublic) triple spec
// §4.7 checks against.
type fileLookup struct {
	repo FileRepository
}

func (l *fileLookup) Lookup(ctx context.Context, resourceID string) (*authz.Resource, error) {
	f, err := l.repo.GetFileRecordByFingerprint(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return &authz.Resource{Owner: f.UserID, ScopeTag: f.ScopeTag, IsPublic: f.IsPublic}, nil
}
