package main

import "github.com/MeKo-Tech/fastdet/cmd/fastdet/cmd"

func main() {
	cmd.Execute()
}
