package main

import "github.com/rpattn/rowmap/internal/cli"

func main() {
	cli.Execute()
}
