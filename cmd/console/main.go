package main

import "github.com/argussec/go-console/cmd/console/cmd"

func main() {
	cmd.Execute()
}
