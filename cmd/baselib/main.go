package main

import (
	"github.com/tessia-project/baselib/internal/cmd"
)

func main() {
	cmd.Execute()
}
