package main

import (
	"os"

	"github.com/twattier/rag-engine/cmd/ragengine"
)

func main() {
	if err := ragengine.Execute(); err != nil {
		os.Exit(1)
	}
}
