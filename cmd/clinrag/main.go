package main

import "clinrag/internal/cli"

func main() {
	cli.Execute()
}
