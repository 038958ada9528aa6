package main

import "github.com/ctxengine/ctxd/internal/cli"

func main() {
	cli.Execute()
}
