package main

import "github.com/LeventeLantos/social-dispatch/internal/cmd"

func main() {
	cmd.Execute()
}
