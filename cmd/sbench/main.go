// Package main is the entry point for the sbench benchmark driver.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/searchbench/sbench/internal/cmd"
	serrors "github.com/searchbench/sbench/internal/errors"
)

func main() {
	rootCmd := cmd.NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		var exitErr *serrors.ExitError
		if errors.As(err, &exitErr) {
			// only print if the command layer hasn't already done so
			if !exitErr.Printed {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
