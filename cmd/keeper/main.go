package main

import (
	"os"

	"github.com/psantana5/epoch-keeper/cmd/keeper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
