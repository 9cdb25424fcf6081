package main

import "github.com/quickvox/quickvox/cmd"

func main() {
	cmd.Execute()
}
