package core

import (
	"context"

	"github.com/dchudnov/campuscall/internal/domain"
)

// MessagingService is the portal's message-thread backend, consumed as a
// black box. PostThreadEntry appends one entry to the direct-message thread
// between the current user and peer.
type MessagingService interface {
	PostThreadEntry(ctx context.Context, peer domain.UserID, entry domain.TranscriptEntry) error
}

// IdentityService resolves the authenticated portal user this process acts
// as. Token issuance and session handling live in the portal, not here.
type IdentityService interface {
	CurrentUserID(ctx context.Context) (domain.UserID, error)
}
