package main

import (
	"github.com/movio/airlock"
	_ "github.com/movio/airlock/plugins"
)

func main() {
	airlock.Main()
}
