package main

import "github.com/hexrift/zentla-sub005/cmd"

func main() {
	cmd.Execute()
}
