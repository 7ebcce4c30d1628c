package components

import (
	"runtime"
	"strconv"
	"strings"
)

// goid returns the current goroutine ID.
// The task-to-component map is keyed by goroutine identity, which is what
// lets FindComponent resolve its caller without an explicit argument.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]
	id, _ := strconv.ParseInt(idField, 10, 64)
	return id
}
