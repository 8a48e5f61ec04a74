// The main package for the competitor-watch executable.
package main

import (
	"github.com/JakeFAU/competitor-watch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
