package graph

import (
	"errors"
	"fmt"
)

// The three error kinds of the engine. Specific sentinels below wrap one of
// these, so callers can match either the exact condition or the whole kind
// with errors.Is.
var (
	// ErrStructural covers defects in component wiring or tracing: unknown
	// targets, arity mismatches, duplicate scopes, post-build mutation.
	// Structural errors are fatal and never retried.
	ErrStructural = errors.New("graph: structural error")

	// ErrPrecondition covers invalid caller input detected before any
	// execution: missing batch keys, unsupported action-space kinds.
	ErrPrecondition = errors.New("graph: precondition failed")

	// ErrExecution covers backend failures during Execute. The cause stays
	// in the chain; retrying is the caller's business.
	ErrExecution = errors.New("graph: execution error")
)

var (
	// ErrUnknownAPI is returned when a traced call or an Execute invocation
	// names an API method or graph function the target never defined.
	ErrUnknownAPI = fmt.Errorf("%w: unknown api method or graph function", ErrStructural)

	// ErrSignature is returned when argument or return counts do not match
	// a definition, at trace time or at execute time.
	ErrSignature = fmt.Errorf("%w: signature mismatch", ErrStructural)

	// ErrDuplicateScope is returned when a child's scope name collides with
	// an existing sibling.
	ErrDuplicateScope = fmt.Errorf("%w: duplicate scope name", ErrStructural)

	// ErrUnitMismatch is returned when an action adapter's declared extra
	// units disagree with the slice widths its variant produces.
	ErrUnitMismatch = fmt.Errorf("%w: action adapter unit mismatch", ErrStructural)

	// ErrForeignRecord is returned when a placeholder from one trace is
	// passed into another.
	ErrForeignRecord = fmt.Errorf("%w: placeholder belongs to another trace", ErrStructural)

	// ErrBuilt is returned on structural mutation of an already built tree,
	// or on building the same tree twice.
	ErrBuilt = fmt.Errorf("%w: component tree already built", ErrStructural)

	// ErrNotBuilt is returned when Execute is called before Build.
	ErrNotBuilt = fmt.Errorf("%w: executor not built", ErrStructural)

	// ErrActionSpace is returned for an action-space kind no policy
	// composite supports.
	ErrActionSpace = fmt.Errorf("%w: unsupported action space kind", ErrPrecondition)
)
