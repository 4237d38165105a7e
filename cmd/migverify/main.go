package main

import (
	"os"

	"github.com/obslabs/migverify/cmd/migverify/cmd"
	"github.com/obslabs/migverify/internal/harness"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(harness.ExitCode(err))
	}
}
