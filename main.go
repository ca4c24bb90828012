package main

import (
	"math/rand"
	"time"

	"github.com/aerowinx/frankenrouter/cmd"
)

func main() {
	rand.Seed(time.Now().UnixNano())

	cmd.Execute()
}
