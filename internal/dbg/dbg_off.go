//go:build !debug
// +build !debug

package dbg

import "io"

// Assert panics with msg if cond is false. Compiled to a no-op unless
// built with the debug tag.
//
// msg must be a string, func() string or fmt.Stringer.
func Assert(cond bool, msg interface{}) {
}

func Fprintf(w io.Writer, format string, a ...interface{}) {
}

func Fprint(w io.Writer, s string) {
}
