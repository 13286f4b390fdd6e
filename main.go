package main

import "commune/cmd/server"

func main() {
	s := server.NewServer()
	s.Run()
}
