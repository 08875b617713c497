package main

import (
	"github.com/szandany/policyguard/internal/cli"
)

func main() {
	cli.Execute()
}
