package main

import (
	"os"

	"github.com/ducminhle1904/crypto-oms/cmd/oms/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
