package main

import "github.com/M-o-a-T/moat-src/cmd"

func main() {
	cmd.Execute()
}
