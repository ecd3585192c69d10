package authz

import (
	"testing"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
)

func TestAllowPublicResource(t *testing.T) {
	err := Allow(Caller{UserID: "u2"}, &Resource{Owner: "u1", ScopeTag: "mid", IsPublic: true}, false)
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAllowDefaultScope(t *testing.T) {
	err := Allow(Caller{UserID: "u2"}, &Resource{Owner: "u1", ScopeTag: model.DefaultTagID}, false)
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAllowOwner(t *testing.T) {
	err := Allow(Caller{UserID: "u1"}, &Resource{Owner: "u1", ScopeTag: "PRIVATE_u1"}, false)
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAllowAdminBypass(t *testing.T) {
	err := Allow(Caller{UserID: "admin1", Role: model.RoleAdmin}, &Resource{Owner: "u1", ScopeTag: "PRIVATE_u1"}, false)
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestDenyPrivateTagCrossAccess(t *testing.T) {
	err := Allow(Caller{UserID: "u2", AssignedTags: []string{"PRIVATE_u1"}}, &Resource{Owner: "u1", ScopeTag: "PRIVATE_u1"}, false)
	if !apperr.IsClass(err, apperr.ClassAuthZ) {
		t.Fatalf("expected AuthZ error, got %v", err)
	}
}

func TestAllowExactScopeTagMatch(t *testing.T) {
	err := Allow(Caller{UserID: "u2", AssignedTags: []string{"mid"}}, &Resource{Owner: "u1", ScopeTag: "mid"}, false)
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestDenyNoAncestorWalkAtThisLayer(t *testing.T) {
	// Caller has "leaf" but the resource is scoped to its ancestor "root";
	// C7 does not perform ancestor expansion (that's C1's job, for
	// search only), so this must be denied.
	err := Allow(Caller{UserID: "u2", AssignedTags: []string{"leaf"}}, &Resource{Owner: "u1", ScopeTag: "root"}, false)
	if !apperr.IsClass(err, apperr.ClassAuthZ) {
		t.Fatalf("expected AuthZ error, got %v", err)
	}
}

func TestDenyEmptyAssignedTags(t *testing.T) {
	err := Allow(Caller{UserID: "u2"}, &Resource{Owner: "u1", ScopeTag: "mid"}, false)
	if !apperr.IsClass(err, apperr.ClassAuthZ) {
		t.Fatalf("expected AuthZ error, got %v", err)
	}
}

func TestFirstChunkUploadAllowedWhenResourceMissing(t *testing.T) {
	if err := Allow(Caller{UserID: "u1"}, nil, true); err != nil {
		t.Fatalf("expected allow for first-chunk upload, got %v", err)
	}
}

func TestMissingResourceOtherwiseNotFound(t *testing.T) {
	err := Allow(Caller{UserID: "u1"}, nil, false)
	if !apperr.IsClass(err, apperr.ClassNotFound) {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}
