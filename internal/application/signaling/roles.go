package signaling

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// ResolveRole returns the session and the role who occupies in it. While the record
// is still a placeholder the doctor is the prospective initiator and a patient the
// prospective responder; neither can write until the initiator's offer claims it.
func ResolveRole(ctx context.Context, store providers.SessionStore, who entities.Identity, sessionID string) (*entities.CallSession, entities.Role, error) {
	session, err := store.EnsureSession(ctx, sessionID)
	if err != nil {
		return nil, "", persistence("failed to load call session", err)
	}

	if session.IsPlaceholder() {
		if who.Role == entities.UserRoleDoctor {
			return session, entities.RoleInitiator, nil
		}
		return session, entities.RoleResponder, nil
	}

	if role, ok := session.RoleOf(who.UserID); ok {
		return session, role, nil
	}
	// a doctor-started call binds its patient on the first answer
	if who.Role == entities.UserRolePatient && session.AcceptsResponder(who.UserID) {
		return session, entities.RoleResponder, nil
	}
	return nil, "", apperrors.NewUnauthorizedError("not a participant of this call")
}
