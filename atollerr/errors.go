package atollerr

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

// enableDebugErrorPrinting makes errors include their stacktrace when printed
const enableDebugErrorPrinting bool = true
const enableDebugFullStacktrace bool = false

type ErrCode int

const (
	None ErrCode = iota
	Verification
	Inference
	UninitUse
)

// AtollError is a recoverable per-procedure checking failure. Internal
// invariant violations are never AtollErrors; those travel as plain Go
// errors and abort the run.
type AtollError interface {
	Error() string
	Code() ErrCode
	ir.Spanned

	withStack([]byte) AtollError
	getStack() []byte
}

// FormatWithSource prefixes the diagnostic with the position it points at.
func FormatWithSource(e AtollError) string {
	return fmt.Sprintf("%s: (E%03d) %s", e.Pos(), e.Code(), e.Error())
}

func FormatWithCode(e AtollError) string {
	if enableDebugErrorPrinting && e.getStack() != nil {
		stack := string(e.getStack())
		if !enableDebugFullStacktrace {
			stack = strings.Split(stack, "\n")[6]
		}
		return fmt.Sprintf("%s:(E%03d) %s", stack, e.Code(), e.Error())
	}
	return fmt.Sprintf("(E%03d) %s", e.Code(), e.Error())
}

func New[E AtollError](err E) AtollError {
	return err.withStack(debug.Stack())
}

// NewVerification reports a refinement the path condition does not imply:
// the residue of one obligation after local simplification.
type NewVerification struct {
	ir.Spanned
	Pred  rty.Pred
	Tag   fixpoint.Tag
	stack []byte
}

func (e NewVerification) Error() string {
	return fmt.Sprintf("refinement cannot be proven: %v (%v)", e.Pred, e.Tag)
}
func (e NewVerification) Code() ErrCode    { return Verification }
func (e NewVerification) getStack() []byte { return e.stack }
func (e NewVerification) withStack(stack []byte) AtollError {
	e.stack = stack
	return e
}

// NewInference reports an existential system with no consistent assignment,
// usually at a call whose refinement arguments cannot be determined.
type NewInference struct {
	ir.Spanned
	Unsolved []rty.EVar
	stack    []byte
}

func (e NewInference) Error() string {
	if len(e.Unsolved) == 0 {
		return "cannot infer refinement arguments here; try a more explicit annotation"
	}
	vars := make([]string, len(e.Unsolved))
	for i, ev := range e.Unsolved {
		vars[i] = ev.String()
	}
	return fmt.Sprintf(
		"cannot infer refinement arguments (unsolved: %v); try a more explicit annotation",
		strings.Join(vars, ", "),
	)
}
func (e NewInference) Code() ErrCode    { return Inference }
func (e NewInference) getStack() []byte { return e.stack }
func (e NewInference) withStack(stack []byte) AtollError {
	e.stack = stack
	return e
}

type NewUninitUse struct {
	ir.Spanned
	Place string
	stack []byte
}

func (e NewUninitUse) Error() string {
	return fmt.Sprintf("use of moved or uninitialized value '%s'", e.Place)
}
func (e NewUninitUse) Code() ErrCode    { return UninitUse }
func (e NewUninitUse) getStack() []byte { return e.stack }
func (e NewUninitUse) withStack(stack []byte) AtollError {
	e.stack = stack
	return e
}
