package main

import "github.com/valpere/building_tiles/cmd"

func main() {
	cmd.Execute()
}
