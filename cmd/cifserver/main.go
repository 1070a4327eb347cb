// Command cifserver is the main CIF application. All functionality is
// accessed through sub-commands, see go/cifserver/cmd.
package main

import "go.skia.org/cif/go/cifserver/cmd"

func main() {
	cmd.Execute()
}
