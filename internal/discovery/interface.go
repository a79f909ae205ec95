// Package discovery answers the join-time questions about sessions: does a
// code exist, where is it hosted, and which session an identity is in.
package discovery

import (
	"context"
)

// Registry defines the session discovery contract
type Registry interface {
	// RegisterSession records (or refreshes) the address hosting a session
	RegisterSession(ctx context.Context, input *RegisterSessionInput) error

	// ResolveSession returns where a session is hosted
	ResolveSession(ctx context.Context, input *ResolveSessionInput) (*Session, error)

	// SessionExists reports whether a session code is registered
	SessionExists(ctx context.Context, code string) (bool, error)

	// RemoveSession forgets a session and releases every identity bound to it
	RemoveSession(ctx context.Context, input *RemoveSessionInput) error

	// BindIdentity attaches an identity to a session, failing if it is
	// already bound to a different one
	BindIdentity(ctx context.Context, input *BindIdentityInput) error

	// BelongsTo reports whether an identity is bound to a session
	BelongsTo(ctx context.Context, input *BelongsToInput) (bool, error)

	// ReleaseIdentity drops an identity's binding to a session
	ReleaseIdentity(ctx context.Context, input *ReleaseIdentityInput) error
}
