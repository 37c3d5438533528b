package main

import "github.com/turtacn/admit/cmd/cli"

func main() {
	cli.Execute()
}
