// Package merge reconciles two divergent texts through an external merge capability.
package merge

import (
	"context"
	"errors"
	"fmt"
)

// Resolver turns (old, new) into a merged text or fails with *MergeError.
type Resolver interface {
	Resolve(ctx context.Context, oldText, newText string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, oldText, newText string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, oldText, newText string) (string, error) {
	return f(ctx, oldText, newText)
}

// ErrMergeFailed is matched by every *MergeError.
var ErrMergeFailed = errors.New("merge failed")

// MergeError carries the completion status reported by the merge tool.
// Status is -1 when the tool could not be started at all.
type MergeError struct {
	Status int
	Err    error
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge failed, status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("merge failed, status %d", e.Status)
}

func (e *MergeError) Unwrap() error { return e.Err }

func (e *MergeError) Is(target error) bool { return target == ErrMergeFailed }

// Decline refuses every merge. Unattended runs use it where no operator can answer.
var Decline Resolver = ResolverFunc(func(context.Context, string, string) (string, error) {
	return "", &MergeError{Status: 1, Err: errors.New("no interactive merge available")}
})

// PreferNew resolves every conflict in favour of the incoming text.
var PreferNew Resolver = ResolverFunc(func(_ context.Context, _, newText string) (string, error) {
	return newText, nil
})
