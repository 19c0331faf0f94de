package main

import "github.com/symdex/symdex/cli"

func main() {
	cli.Execute()
}
