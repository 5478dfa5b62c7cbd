package main

import "github.com/wentf9/raft/cmd"

func main() {
	cmd.Execute()
}
