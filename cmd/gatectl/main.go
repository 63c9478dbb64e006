package main

import "github.com/library-systems/gatehouse/cmd/gatectl/cmd"

func main() {
	cmd.Execute()
}
