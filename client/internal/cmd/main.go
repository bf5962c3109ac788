package main

import (
	"lifeboat/client/pkg/cmd"
	"os"
)

func main() {
	if err := cmd.New().Execute(); err != nil {
		os.Exit(1)
	}
}
