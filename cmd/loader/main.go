package main

import (
	"os"

	"github.com/zerovm-go/loader/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
