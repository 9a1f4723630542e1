// Package main is the entry point for the audioplayersd application.
package main

import (
	"os"

	"github.com/gnus-inc/audioplayers/cmd/audioplayersd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
