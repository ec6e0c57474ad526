package main

import "github.com/matheus3301/wppdash/internal/cli"

func main() {
	cli.Execute()
}
