package main

import "github.com/ccjk/daemon/cmd"

func main() {
	cmd.Execute()
}
