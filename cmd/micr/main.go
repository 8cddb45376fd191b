package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ppiankov/micr/internal/cli"
)

func main() {
	err := cli.Execute()
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
