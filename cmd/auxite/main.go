package main

import "auxite-wallet/internal/cli"

func main() {
	cli.Execute()
}
