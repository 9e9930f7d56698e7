package main

import "github.com/audiolibrelab/avatarhost/cmd"

func main() {
	cmd.Execute()
}
