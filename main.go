package main

import "manyshot/cmd"

func main() {
	cmd.Execute()
}
