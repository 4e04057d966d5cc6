package main

import "github.com/altair-labs/salesagent/cmd"

func main() {
	cmd.Execute()
}
