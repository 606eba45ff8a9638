package bridge

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

// ErrRuntimeUnavailable means the remote backend is required but not usable.
// This signals deliberate misconfiguration and is never absorbed by the
// local fallback.
var ErrRuntimeUnavailable = errors.New("remote agent backend unavailable")

// RoleUnavailableError means neither the remote path produced a result nor
// a local implementation is registered for the role.
type RoleUnavailableError struct {
	Role roles.Name
}

func (e *RoleUnavailableError) Error() string {
	return fmt.Sprintf("no local %s implementation registered and remote produced no result", e.Role)
}

// AgentReportedError means the remote backend explicitly flagged a failure,
// either on a correlated tool-result block or on the exchange's terminal
// result. It surfaces to the caller without local fallback.
type AgentReportedError struct {
	Role    roles.Name
	Message string
}

func (e *AgentReportedError) Error() string {
	return fmt.Sprintf("agent reported error for role %s: %s", e.Role, e.Message)
}

// fatalRemoteError reports whether a remote-attempt error must propagate to
// the caller instead of triggering the local fallback. Everything else is a
// transient transport failure: logged, then recovered locally.
func fatalRemoteError(err error) bool {
	var agentErr *AgentReportedError
	return errors.Is(err, ErrRuntimeUnavailable) ||
		errors.As(err, &agentErr) ||
		errors.Is(err, roles.ErrMalformedResponse) ||
		errors.Is(err, roles.ErrInvalidResponseShape)
}
