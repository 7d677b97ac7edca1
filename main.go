package main

import "nineanimator/cmd"

func main() {
	cmd.Execute()
}
