package capability

import "errors"

var (
	// ErrCapabilityNotFound is returned when no registry entry matches a
	// requested capability id or tag set. Never substituted with a default.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrRegistryLoad is returned for a missing or unparseable registry
	// artifact. Startup-fatal.
	ErrRegistryLoad = errors.New("registry load error")

	// ErrScopeViolation is returned for a file access outside a capability's
	// declared read/write scope. Detected before any delegate invocation.
	ErrScopeViolation = errors.New("scope violation")
)
