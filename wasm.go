//go:build js && wasm

package main

import (
	"syscall/js"

	"github.com/cottand/atoll/atoll"
)

func main() {
	js.Global().Set("VerifyProgram", js.FuncOf(atoll.VerifyProgram))
	js.Global().Set("DumpConstraints", js.FuncOf(atoll.DumpConstraints))

	// wait indefinitely so that Go does not terminate execution
	// and the function remains available
	<-make(chan struct{})
}
