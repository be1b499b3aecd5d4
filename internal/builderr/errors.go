// Package builderr collects the error taxonomy shared by the parser, the
// dependency graph, and the scheduler, so that callers can type-switch on a
// single set of error values regardless of which stage raised them.
package builderr

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

// IoError wraps a failure to read a rule file.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func Io(path string, err error) error {
	return &IoError{Path: path, Err: err}
}

// SyntaxError reports a malformed rule file at a specific line.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

func Syntax(line int, message string) error {
	return &SyntaxError{Line: line, Message: message}
}

// DuplicateError is returned by Graph.Add when a target is already defined.
type DuplicateError struct {
	Target string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("target %q already defined", e.Target)
}

// MissingTargetError reports a prerequisite (or requested target) that
// does not resolve to any defined rule.
type MissingTargetError struct {
	Name string
}

func (e *MissingTargetError) Error() string {
	return fmt.Sprintf("don't know how to make %q", e.Name)
}

func MissingTarget(name string) error {
	return &MissingTargetError{Name: name}
}

// CircularDependencyError carries a cycle witness: the set of targets the
// topological sort could not emit.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency among: %v", e.Cycle)
}

func CircularDependency(cycle []string) error {
	return &CircularDependencyError{Cycle: cycle}
}

// TargetFailure records why a single target ended in the Failed state.
type TargetFailure struct {
	Target string
	Reason string
}

// BuildFailedError aggregates every target that reached Failed during a
// build. The underlying *multierror.Error gives callers both a readable
// combined message and programmatic access to each individual failure.
type BuildFailedError struct {
	Failures []TargetFailure
	agg      *multierror.Error
}

func (e *BuildFailedError) Error() string { return e.agg.Error() }

func (e *BuildFailedError) Unwrap() error { return e.agg }

// BuildFailed builds a BuildFailedError from the set of targets that
// reached Failed. Returns nil when failures is empty.
func BuildFailed(failures []TargetFailure) error {
	if len(failures) == 0 {
		return nil
	}
	agg := &multierror.Error{}
	for _, f := range failures {
		agg = multierror.Append(agg, xerrors.Errorf("%s: %s", f.Target, f.Reason))
	}
	return &BuildFailedError{Failures: failures, agg: agg}
}
