package main

import "github.com/curaious/uno-sandbox/cmd"

func main() {
	cmd.Execute()
}
