package main

import (
	"github.com/iamgatling/mxxc/internal/cli"
	"github.com/iamgatling/mxxc/internal/logging"
)

func main() {
	logging.Init()
	cli.Execute()
}
