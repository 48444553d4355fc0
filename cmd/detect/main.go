// Package main is the detect command: it configures a detector from a YAML
// parameter file and prints the detections of each image as JSON.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
