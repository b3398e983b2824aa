// goldpctl is the command-line client of the goldp inspection API.
package main

import "github.com/dantte-lp/goldp/cmd/goldpctl/commands"

func main() {
	commands.Execute()
}
