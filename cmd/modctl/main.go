package main

import (
	"fmt"
	"os"
)

func main() {
	root, closeService := newRootCmd(openFromEnv)
	err := root.Execute()
	if cerr := closeService(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
