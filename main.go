package main

import "trading-loop/internal/cli"

func main() {
	cli.Execute()
}
