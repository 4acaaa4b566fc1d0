package main

import "github.com/naka-gawa/year-review/cmd"

func main() {
	cmd.Execute()
}
