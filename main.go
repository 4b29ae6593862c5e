package main

import "github.com/khjohns/Fravik-utslippsfribyggeplass/internal/cli"

func main() {
	cli.Execute()
}
