package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Output is where terminal helpers write
var Output io.Writer = os.Stdout

var quiet atomic.Bool

// SetQuietMode silences the Print helpers and progress lines
func SetQuietMode(q bool) { quiet.Store(q) }

// IsQuietMode reports whether terminal output is silenced
func IsQuietMode() bool { return quiet.Load() }

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

func emit(s string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintln(Output, s)
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		emit(Red(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		emit(Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	emit(Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	emit(fmt.Sprintf("%s: %s", Cyan(label), Yellow(value)))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		emit(Yellow(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		emit(Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	emit(Magenta(msg))
}
