package main

import (
	"github.com/fortiblox/X1-Sandbox/cmd/sandbox/run"
)

func main() {
	if err := run.Cmd().Execute(); err != nil {
		run.Exit(1, err.Error())
	}
}
