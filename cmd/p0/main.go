package main

import (
	"fmt"
	"os"

	p0cmd "github.com/p0-security/p0cli-sub002/pkg/p0/cmd"
	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
)

func main() {
	root := p0cmd.NewRootCommand(p0cmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(fault.ExitCode(err))
	}
}
