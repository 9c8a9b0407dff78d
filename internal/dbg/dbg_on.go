//go:build debug
// +build debug

package dbg

import (
	"fmt"
	"io"
)

// Assert panics with msg if cond is false.
func Assert(cond bool, msg interface{}) {
	if !cond {
		panic(stringValue(msg))
	}
}

func Fprintf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format, a...)
}

func Fprint(w io.Writer, s string) {
	fmt.Fprint(w, s)
}

func stringValue(msg interface{}) string {
	switch v := msg.(type) {
	case string:
		return v
	case func() string:
		return v()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
