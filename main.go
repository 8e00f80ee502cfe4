package main

import "github.com/localrank/gridrank/cmd"

func main() {
	cmd.Execute()
}
