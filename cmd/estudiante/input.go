package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/exepirit/classradio/pkg/classradio"
)

// parseInput maps a console line to the buttons pressed on one tick:
// a, b, ab, cfg+a, cfg+b and logo.
func parseInput(line string) (classradio.Input, error) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a":
		return classradio.Input{A: true}, nil
	case "b":
		return classradio.Input{B: true}, nil
	case "ab", "a+b":
		return classradio.Input{AB: true}, nil
	case "cfg+a":
		return classradio.Input{Config: true, A: true}, nil
	case "cfg+b":
		return classradio.Input{Config: true, B: true}, nil
	case "logo":
		return classradio.Input{Logo: true}, nil
	}
	return classradio.Input{}, fmt.Errorf("unknown input %q", line)
}

var iconNames = map[classradio.Icon]string{
	classradio.IconRegistered: "registered",
	classradio.IconQuestion:   "question",
	classradio.IconConfirmed:  "confirmed",
	classradio.IconFatal:      "fatal",
}

// consoleDisplay prints what the device would show on its screen.
type consoleDisplay struct {
	w io.Writer
}

func (d consoleDisplay) Show(text string) {
	fmt.Fprintf(d.w, "[display] %s\n", text)
}

func (d consoleDisplay) ShowIcon(icon classradio.Icon) {
	fmt.Fprintf(d.w, "[display] <%s>\n", iconNames[icon])
}
