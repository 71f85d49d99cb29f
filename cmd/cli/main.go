package main

import "panelbridge/cmd/cli/command"

func main() {
	command.Execute()
}
