package main

import (
	"log"
	"os"
)

func main() {
	defer log.Println("cleanup")

	if len(os.Args) > 3 {
		os.Exit(2) // want "os.Exit in main.main skips deferred cleanup"
	}
	exit := os.Exit // want "os.Exit in main.main skips deferred cleanup"
	_ = exit

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if len(os.Args) > 5 {
		os.Exit(3)
	}
	return nil
}
