//go:build js && wasm

package atoll

import (
	"context"
	"fmt"
	"strings"
	"syscall/js"

	"github.com/cottand/atoll/atollerr"
)

// VerifyProgram checks a single exported file and reports each procedure's
// verdict, or the load error if the input does not decode.
//
// output: { error: string } | { ok: bool, report: string }
func VerifyProgram(_ js.Value, args []js.Value) (ret any) {
	errorObj := func(err string) any {
		return js.ValueOf(map[string]any{
			"error": err,
		})
	}
	resultObj := func(ok bool, report string) any {
		return js.ValueOf(map[string]any{
			"ok":     ok,
			"report": report,
		})
	}
	defer func() {
		if r := recover(); r != nil {
			ret = errorObj("checker panicked: " + fmt.Sprint(r))
		}
	}()

	program := args[0].String()
	prog, errs, err := NewProgramFromBytes([]byte(program))
	if err != nil {
		return errorObj(fmt.Sprintf("the checker encountered a failure:\n\n%s", err))
	}
	if errs.HasError() {
		return resultObj(false, formatErrors(errs))
	}

	results, errs, err := prog.CheckAll(context.Background(), CheckSettings{Jobs: 1})
	if err != nil {
		return errorObj(fmt.Sprintf("the checker encountered a failure:\n\n%s", err))
	}

	sb := strings.Builder{}
	for _, result := range results {
		if result.Errors.HasError() {
			fmt.Fprintf(&sb, "FAIL %s\n", result.Def)
			for _, e := range result.Errors.Errors() {
				fmt.Fprintf(&sb, "  %s\n", atollerr.FormatWithSource(e))
			}
			continue
		}
		fmt.Fprintf(&sb, "ok   %s\n", result.Def)
	}
	return resultObj(!errs.HasError(), sb.String())
}

// DumpConstraints checks a single exported file and returns the constraint
// query each procedure leaves for the solver.
func DumpConstraints(_ js.Value, args []js.Value) (ret any) {
	defer func() {
		if r := recover(); r != nil {
			ret = "checker panicked: " + fmt.Sprint(r)
		}
	}()

	program := args[0].String()
	prog, errs, err := NewProgramFromBytes([]byte(program))
	if err != nil {
		return fmt.Sprintf("the checker encountered a failure:\n\n%s", err)
	}
	if errs.HasError() {
		return formatErrors(errs)
	}

	results, _, err := prog.CheckAll(context.Background(), CheckSettings{Jobs: 1})
	if err != nil {
		return fmt.Sprintf("the checker encountered a failure:\n\n%s", err)
	}
	sb := strings.Builder{}
	for _, result := range results {
		fmt.Fprintf(&sb, "// constraints of %s\n%s\n", result.Def, result.Query)
	}
	return sb.String()
}

func formatErrors(errs *atollerr.Errors) string {
	sb := strings.Builder{}
	sb.WriteString("the program has the following errors:\n")
	for _, e := range errs.Errors() {
		sb.WriteString(atollerr.FormatWithSource(e))
		sb.WriteByte('\n')
	}
	return sb.String()
}
