package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tonimelisma/dbxlink/internal/auth"
	"github.com/tonimelisma/dbxlink/internal/dropbox"
)

// Exit codes beyond the generic failure.
const (
	exitFailure = 1
	exitBlocked = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitOnError(os.Stderr, err))
	}
}

// exitOnError reports err on w and returns the process exit code. Errors
// whose details were already printed by the command only set the code.
func exitOnError(w io.Writer, err error) int {
	switch {
	case errors.Is(err, errSendBlocked):
		return exitBlocked
	case errors.Is(err, errConversionsFailed):
		return exitFailure
	}

	fmt.Fprintf(w, "Error: %v\n", err)

	if isAuthFailure(err) {
		fmt.Fprintln(w, "Authentication failed; run the command again to retry.")
	}

	return exitFailure
}

func isAuthFailure(err error) bool {
	return errors.Is(err, dropbox.ErrTokenUnavailable) ||
		errors.Is(err, auth.ErrStateMismatch) ||
		errors.Is(err, auth.ErrAuthorizationDenied) ||
		errors.Is(err, auth.ErrCallbackTimeout) ||
		errors.Is(err, auth.ErrTokenExchange)
}
