package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrMissingConfig is returned when required credentials or variables are not configured.
	// It is a configuration error and must never be retried automatically.
	ErrMissingConfig = errors.New("missing configuration")
	// ErrProvisionTimeout is returned when the sandbox provider does not create the sandbox in time.
	ErrProvisionTimeout = errors.New("provisioning timed out")
	// ErrSandboxGone is returned when a task sandbox can't be reached anymore (expired or removed).
	ErrSandboxGone = errors.New("sandbox is no longer available")
	// ErrRateLimited is returned when a caller exhausted its daily quota.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAgentCredentials is returned when an agent adapter misses the credentials it needs.
	ErrAgentCredentials = errors.New("agent credentials missing")
	// ErrAgentInstall is returned when an agent CLI could not be installed in the sandbox.
	ErrAgentInstall = errors.New("agent install failed")
	// ErrAgentExecution is returned when an agent CLI run fails.
	ErrAgentExecution = errors.New("agent execution failed")

	// ErrPushFailed is returned when the publication push fails, the local commit is kept.
	ErrPushFailed = errors.New("git push failed")
)
