package main

import (
	"os"

	"github.com/wesleyorama2/merchload/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
