package main

import (
	"fmt"
	"os"
	"strings"
)

// uiMode selects whether install and compile progress is drawn as a live view.
type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	mode := uiMode(strings.ToLower(strings.TrimSpace(value)))
	switch mode {
	case "":
		return uiModeAuto, nil
	case uiModeAuto, uiModeOn, uiModeOff:
		return mode, nil
	}
	return "", fmt.Errorf("--ui must be auto, on or off, got %q", value)
}

// live reports whether progress should be drawn. The view renders on stderr,
// so auto mode follows stderr rather than stdout and stays off for dumb terminals.
func (m uiMode) live() bool {
	switch m {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	}
	return isTerminal(os.Stderr) && os.Getenv("TERM") != "dumb"
}
