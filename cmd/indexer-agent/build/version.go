// Package build carries the agent's version string, printed on -v the
// way the teacher's cmd/apiserver/build package is invoked from
// ApiServer.Run (that package itself isn't present in the retrieved
// source; this is the same boundary, rebuilt).
package build

import "fmt"

// Version is overridden at link time with -ldflags "-X ...build.Version=...".
var Version = "dev"

// PrintVersion prints the agent's build version to stdout.
func PrintVersion() {
	fmt.Printf("indexer-agent %s\n", Version)
}
