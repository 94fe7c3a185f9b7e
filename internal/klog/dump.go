package klog

import "github.com/davecgh/go-spew/spew"

// dumpConfig mirrors the original's verbose DebugLogOutput struct traces:
// deep, pointer-following, method-less dumps suitable for a debug-log
// kernel call's output.
var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Dump renders a deep structural snapshot of v (a process table, thread
// table, or block-list state) the way a debug-log "dump state" kernel call
// would print it to the console.
func Dump(label string, v interface{}) string {
	return label + ":\n" + dumpConfig.Sdump(v)
}
