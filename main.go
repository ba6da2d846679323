package main

import "github.com/nextlevelbuilder/myclaw/cmd"

func main() {
	cmd.Execute()
}
