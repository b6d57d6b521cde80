package main

import "github.com/simforge/isagen/cmd"

func main() {
	cmd.Execute()
}
