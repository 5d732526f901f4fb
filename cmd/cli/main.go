package main

import (
	"github.com/flamegiraffe/cmd/cli/cmd"
)

func main() {
	cmd.Execute()
}
