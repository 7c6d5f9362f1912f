package main

import "geocaching-backend/cmd"

func main() {
	cmd.Run()
}
