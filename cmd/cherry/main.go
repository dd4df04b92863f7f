// Package main provides the entry point for the cherry CLI.
package main

import "yqhp/cherry/cmd"

func main() {
	cmd.Execute()
}
