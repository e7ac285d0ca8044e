package main

import (
	"log"

	"github.com/Canejo/vault-state-plugin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
