package main

import "bias-aggregator/internal/cli"

func main() {
	cli.Execute()
}
