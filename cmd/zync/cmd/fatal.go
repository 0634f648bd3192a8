// Copyright © 2024 Zyncio

package cmd

import (
	"fmt"
	"log"
	"os"
)

// Exit paths live behind package variables so tests can swap them for
// counting mocks and run commands end to end without killing the process.
var (
	logFatalln = log.Fatalln
	logFatalf  = log.Fatalf
	osExit     = os.Exit

	// infoLogger carries informative messages that are not part of a
	// command's expected output
	infoLogger = log.New(os.Stdout, "", 0)
	logStdOut  = fmt.Printf
)

// wrapFatalln logs msg, annotated with err when there is one, and exits.
func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
		return
	}
	logFatalf("%v", fmt.Errorf(msg+": %w", err))
}

// wrapFatalWithCodef exits with a specific status code, bypassing the
// logger: the message is the exit reason.
func wrapFatalWithCodef(code int, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(code)
}
