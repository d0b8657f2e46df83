// Package main is the single-binary entrypoint for the greenhouse
// supervisory control and analytics platform.
package main

import "github.com/greenhouse-network/sentinel/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
