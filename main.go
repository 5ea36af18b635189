package main

import "github.com/andresmejia3/lenswatch/cmd"

func main() {
	cmd.Execute()
}
