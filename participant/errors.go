package participant

import "github.com/pkg/errors"

// ErrOutOfResources is returned when domain participant creation
// cannot find a free participant index. A ResourceLimits bound hit by
// DataWriter.Write is reported by the writer's own error instead
// (rtpswriter.ErrWouldBlock or history.ErrResourceLimitExceeded).
var ErrOutOfResources = errors.New("participant: out of resources")

// ErrPoisoned is returned by Close when the participant has already
// been closed. Other methods do not check for a closed participant.
var ErrPoisoned = errors.New("participant: closed")

// ErrNotAllowedBySecurity names an operation denied by access control.
// No function in this package returns it: a remote endpoint denied by
// access control is logged and left unmatched.
var ErrNotAllowedBySecurity = errors.New("participant: not allowed by security")

// ErrInconsistentPolicy names a requested QoS that cannot be honored
// given another QoS on the same entity. No function in this package
// returns it: CreateDataWriter and CreateDataReader do not check QoS
// consistency.
var ErrInconsistentPolicy = errors.New("participant: inconsistent qos policy")
