package main

import (
	"log"

	"certchain/cmd/certchain/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
