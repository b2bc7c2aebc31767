package main

import "github.com/brodkin/clack-track-sub011/cmd"

func main() {
	cmd.Execute()
}
