package main

import (
	"os"
)

var buildVersion = "dev"

func main() {
	if err := newRoot().Command().Execute(); err != nil {
		os.Exit(1)
	}
}
