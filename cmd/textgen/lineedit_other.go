//go:build !linux

package main

import (
	"bufio"
	"io"
	"os"
)

var stdinReader = bufio.NewReader(os.Stdin)

func readInteractiveLine(prompt string) (string, error) {
	_, _ = os.Stdout.WriteString(prompt)
	s, err := stdinReader.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return trimTrailingNewline(s), nil
}
