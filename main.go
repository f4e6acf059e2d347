package main

import (
	"os"

	"github.com/asaidimu/mirrorql/cli"
)

func main() {
	os.Exit(cli.Execute())
}
