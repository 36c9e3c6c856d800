// Package main provides the entry point for the pagesearch CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/pagesearch/cmd/pagesearch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
