// Package identity resolves bearer credentials into the caller's identity and
// answers ownership questions about rooms and appointments.
package identity

import (
	"context"
	"strings"

	"github.com/md-rashed-zaman/carebook/libs/auth"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

type Identity struct {
	UserID      string
	Role        string
	ProviderIDs []string
	SubjectIDs  []string
}

func (id Identity) IsAdmin() bool { return id.Role == auth.RoleAdmin }

func (id Identity) OwnsProvider(providerID string) bool {
	return providerID != "" && contains(id.ProviderIDs, providerID)
}

func (id Identity) OwnsSubject(subjectID string) bool {
	return subjectID != "" && contains(id.SubjectIDs, subjectID)
}

// DefaultSubjectID is the subject a caller books for when none is named.
func (id Identity) DefaultSubjectID() string {
	if len(id.SubjectIDs) > 0 {
		return id.SubjectIDs[0]
	}
	return ""
}

// ActorRole reports the capacity in which id acts on a, or "" when it has
// no relation to the appointment.
func (id Identity) ActorRole(a model.Appointment) model.ActorRole {
	switch {
	case id.OwnsProvider(a.ProviderID):
		return model.ActorProvider
	case id.IsAdmin():
		return model.ActorAdmin
	case id.OwnsSubject(a.SubjectID):
		return model.ActorSubject
	default:
		return ""
	}
}

func (id Identity) CanView(a model.Appointment) bool {
	return id.ActorRole(a) != ""
}

// Resolver turns a bearer token into an Identity. Failures are UNAUTHORIZED.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

type tokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// JWTResolver reads identities from signed access tokens.
type JWTResolver struct {
	verifier tokenVerifier
}

func NewJWTResolver(v auth.Verifier) *JWTResolver {
	return &JWTResolver{verifier: v}
}

func (r *JWTResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, model.Errorf(model.KindUnauthorized, "invalid or expired credentials")
	}
	return FromClaims(claims)
}

func FromClaims(c *auth.Claims) (Identity, error) {
	id := Identity{UserID: c.Subject, Role: strings.ToLower(strings.TrimSpace(c.Role))}
	switch id.Role {
	case auth.RoleProvider:
		if c.ProviderID == "" {
			return Identity{}, model.Errorf(model.KindUnauthorized, "provider token without provider_id")
		}
		id.ProviderIDs = []string{c.ProviderID}
	case auth.RoleSubject, "":
		id.Role = auth.RoleSubject
		subjectID := c.SubjectID
		if subjectID == "" {
			subjectID = c.Subject
		}
		id.SubjectIDs = []string{subjectID}
	case auth.RoleAdmin:
	default:
		return Identity{}, model.Errorf(model.KindUnauthorized, "unknown role %q", c.Role)
	}
	return id, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
