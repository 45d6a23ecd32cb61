package sampler

import (
	"errors"
	"fmt"
)

// Service names used in errors, logs, and metric labels.
const (
	ServiceSnap        = "snap"
	ServiceObstruction = "obstruction"
	ServicePanorama    = "panorama"
	ServiceImage       = "image"
)

var (
	// ErrQuotaExceeded is the structural quota signal. Adapters return an error
	// matching it (errors.Is) when the current credential is spent.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrKeyRingExhausted reports that no credential remains after the current one.
	ErrKeyRingExhausted = errors.New("credential ring exhausted")
	// ErrNoCredentials is returned when a ring is built from an empty list.
	ErrNoCredentials = errors.New("at least one credential is required")
	// ErrFieldAlreadySet guards the set-once derived fields on Coordinate.
	ErrFieldAlreadySet = errors.New("derived field already set")
)

// QuotaExceededError is the uniform recoverable failure raised by any of the
// external services.
type QuotaExceededError struct {
	Service string
	Err     error
}

func (e *QuotaExceededError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: quota exceeded", e.Service)
	}
	return fmt.Sprintf("%s: quota exceeded: %v", e.Service, e.Err)
}

// Is reports whether target is ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// TransportError wraps any non-quota failure of an external service call.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// KeyRingExhaustedError is returned by Rotate on the last credential.
type KeyRingExhaustedError struct {
	Size int
}

func (e *KeyRingExhaustedError) Error() string {
	return fmt.Sprintf("all %d credentials exhausted", e.Size)
}

// Is reports whether target is ErrKeyRingExhausted.
func (e *KeyRingExhaustedError) Is(target error) bool { return target == ErrKeyRingExhausted }

// CapacityExceededError is returned when adding to a full Batch.
type CapacityExceededError struct {
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("batch capacity %d exceeded", e.Capacity)
}

// InvalidDirectionError is returned by Region.Corner for unknown directions.
type InvalidDirectionError struct {
	Direction Direction
}

func (e *InvalidDirectionError) Error() string {
	return fmt.Sprintf("invalid corner direction %q", string(e.Direction))
}

// RegionValidationError reports a malformed region description.
type RegionValidationError struct {
	Reason string
}

func (e *RegionValidationError) Error() string {
	return "invalid region: " + e.Reason
}

// IsQuota reports whether err carries the quota signal.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// Classify normalizes a service failure into a QuotaExceededError or a
// TransportError. Errors already of either type are returned unchanged.
func Classify(service string, err error) error {
	if err == nil {
		return nil
	}
	var quota *QuotaExceededError
	if errors.As(err, &quota) {
		return err
	}
	if IsQuota(err) {
		return &QuotaExceededError{Service: service, Err: err}
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return err
	}
	return &TransportError{Service: service, Err: err}
}
