package registry

import "fmt"

// UnregisteredBuildError reports a completion for a build unit that was
// never registered. It means the host called the end hook for a unit whose
// start hook never ran, which breaks the bookkeeping every waiting unit
// relies on, so it is surfaced as a distinct type rather than logged and
// swallowed.
type UnregisteredBuildError struct {
	ID BuildID
}

func (e *UnregisteredBuildError) Error() string {
	return fmt.Sprintf("build unit %q completed without being registered", e.ID)
}
