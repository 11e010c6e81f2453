package main

import "github.com/andupopescu/ore-cli-extended-stats/cmd/ore/commands"

func main() {
	commands.Execute()
}
