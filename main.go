package main

import "github.com/jackmmaher/appscout/cmd"

func main() {
	cmd.Execute()
}
