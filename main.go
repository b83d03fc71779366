// The main package for the pipeline executable.
package main

import (
	"github.com/JakeFAU/crawl-pipeline/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
