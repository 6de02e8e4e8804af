package main

import "hyperstats/internal/cli"

func main() {
	cli.Execute()
}
