package main

import "github.com/gazar78gazar/reqMas-MVP/internal/cli"

func main() {
	cli.Execute()
}
