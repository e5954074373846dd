package main

import "github.com/ItsRyan504/Slush-Bot/cmd"

func main() {
	cmd.Execute()
}
