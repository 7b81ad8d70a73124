package main

import (
	"lol-match-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
