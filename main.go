package main

import "github.com/manydesigns/portofino/cmd"

func main() {
	cmd.Execute()
}
