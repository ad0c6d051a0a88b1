package main

import "eodbars/internal/cli"

func main() {
	cli.Execute()
}
