package main

import (
	"fmt"
	"os"

	"github.com/bisegni/msiq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "msiq:", err)
		os.Exit(cmd.ExitCode(err))
	}
}
