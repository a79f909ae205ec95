package discovery

import "time"

// Session is what a session code resolves to
type Session struct {
	Code         string    `json:"code"`
	Address      string    `json:"address"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// RegisterSessionInput contains parameters for registering a session
type RegisterSessionInput struct {
	Code    string
	Address string
}

// ResolveSessionInput contains parameters for resolving a session
type ResolveSessionInput struct {
	Code string
}

// RemoveSessionInput contains parameters for removing a session
type RemoveSessionInput struct {
	Code string
}

// BindIdentityInput contains parameters for binding an identity
type BindIdentityInput struct {
	Identity string
	Code     string
}

// BelongsToInput contains parameters for a membership check
type BelongsToInput struct {
	Identity string
	Code     string
}

// ReleaseIdentityInput contains parameters for releasing an identity
type ReleaseIdentityInput struct {
	Identity string
	Code     string
}
