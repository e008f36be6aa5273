package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"offsync/internal/cli"
)

var version = "dev"

func main() {
	// best-effort: a missing .env is normal
	_ = godotenv.Load()

	if err := cli.ExecuteWithVersion(version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
