package plan

import (
	"errors"
	"fmt"

	"github.com/xiaobogaga/minidf/storage"
)

// SchemaError reports a reference to a column the input schema doesn't have.
// Raised while the plan is built, never deferred to execution.
type SchemaError struct {
	Column string
	Plan   string
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("column %s cannot be found in %s", e.Column, e.Plan)
}

// TypeMismatchError reports incompatible types on a comparison or join key pair.
type TypeMismatchError struct {
	Left  storage.Field
	Right storage.Field
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: %s vs %s", e.Left, e.Right)
}

// ErrOptimizerDiverged means the fixed point rewrite didn't settle within the
// configured pass bound. Fatal: the caller never gets a half rewritten plan.
var ErrOptimizerDiverged = errors.New("optimizer exceeded rewrite pass bound")
