// The main package for the deepcrawl executable.
package main

import (
	"github.com/crawlkit/deepcrawl/cmd"
)

func main() {
	cmd.Execute()
}
