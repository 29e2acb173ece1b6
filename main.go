// The main package for the ytcrawler executable.
package main

import (
	"github.com/JakeFAU/ytcrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
