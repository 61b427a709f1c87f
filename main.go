// The main package for the filmratings executable.
package main

import (
	"github.com/JakeFAU/film-ratings-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
