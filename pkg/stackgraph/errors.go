package stackgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidIdentifier    = errors.New("invalid resource identifier")
	ErrDuplicateResource    = errors.New("duplicate resource identifier")
	ErrMissingReference     = errors.New("reference to undeclared resource")
	ErrKindMismatch         = errors.New("reference to resource of wrong kind")
	ErrInvalidRemovalPolicy = errors.New("invalid removal policy")
	ErrInvalidCORSMethod    = errors.New("invalid cors method")
	ErrInvalidCORSRule      = errors.New("invalid cors rule")
	ErrInvalidEvent         = errors.New("invalid event binding")
	ErrInvalidGrant         = errors.New("invalid permission grant")
	ErrMissingEnvironment   = errors.New("granted resource missing from environment")
	ErrInvalidFunction      = errors.New("invalid function")
	ErrInvalidTable         = errors.New("invalid table")
	ErrInvalidLayer         = errors.New("invalid layer")
	ErrInvalidGateway       = errors.New("invalid gateway")
	ErrInvalidOutput        = errors.New("invalid output")
	ErrCycle                = errors.New("dependency cycle detected")
)

// DeclarationError is a single synthesis-time failure attributed to one declaration.
type DeclarationError struct {
	Kind     error
	Resource string
	Msg      string
}

func (e *DeclarationError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Resource != "" {
		b.WriteString(" [")
		b.WriteString(e.Resource)
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *DeclarationError) Unwrap() error { return e.Kind }

func declErr(kind error, resource, format string, args ...any) error {
	return &DeclarationError{Kind: kind, Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

// DeclarationErrors returns every DeclarationError carried by err, in report order.
func DeclarationErrors(err error) []*DeclarationError {
	if err == nil {
		return nil
	}
	var out []*DeclarationError
	var walk func(error)
	walk = func(e error) {
		switch typed := e.(type) {
		case *DeclarationError:
			out = append(out, typed)
		case interface{ Unwrap() []error }:
			for _, inner := range typed.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := typed.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}
