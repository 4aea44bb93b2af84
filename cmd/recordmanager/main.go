// Package main is the entry point of the recordmanager command line tool:
// batch deduplication, consistency checks and the admin API.
package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/infrastructure/http/v1/handlers"
)

var version = "dev"

const (
	exitFailed    = 1
	exitCancelled = 2
)

func main() {
	handlers.Version = version

	err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case apperror.IsCancelled(err):
		return exitCancelled
	default:
		return exitFailed
	}
}
