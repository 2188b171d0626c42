package main

import (
	"os"

	"kafnotif/cmd/kafnotif/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
