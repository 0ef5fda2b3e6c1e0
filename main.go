package main

import "chug/cmd"

func main() {
	cmd.Execute()
}
