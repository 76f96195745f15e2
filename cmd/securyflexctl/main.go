// Command securyflexctl runs and operates the SecuryFlex account security
// service.
package main

import (
	"fmt"
	"os"

	"github.com/securyflex/accountguard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "securyflexctl:", err)
		os.Exit(1)
	}
}
