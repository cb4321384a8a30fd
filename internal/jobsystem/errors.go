package jobsystem

import "errors"

var (
	// ErrTypeRegistered is returned when a job type name is registered twice.
	ErrTypeRegistered = errors.New("job type already registered")
	// ErrUnknownType is returned by CreateJob for a name with no factory.
	ErrUnknownType = errors.New("job type not registered")
	// ErrInvalidInput is returned when a job's serialized input is not a JSON object.
	ErrInvalidInput = errors.New("invalid job input")

	ErrNilJob            = errors.New("nil job")
	ErrAlreadySubmitted  = errors.New("job already submitted")
	ErrUnknownDependency = errors.New("dependency was never submitted")

	// ErrNotRetirable is returned by RetireOne for NEVER_SEEN or RETIRED jobs.
	ErrNotRetirable = errors.New("no such job awaiting retirement")
	// ErrRetireTimeout is returned when RetireOne gives up waiting for completion.
	ErrRetireTimeout = errors.New("timed out waiting for job completion")

	ErrWorkerExists   = errors.New("worker already exists")
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrShutdown is returned for operations attempted after Shutdown began.
	ErrShutdown = errors.New("job system is shutting down")
)
