package main

import "github.com/hoardr-dl/hoardr/cmd"

func main() {
	cmd.Execute()
}
