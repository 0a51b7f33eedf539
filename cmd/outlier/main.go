package main

import "github.com/mcoot/outlier/internal/cli"

func main() {
	cli.Execute()
}
