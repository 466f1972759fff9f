package main

import (
	"fmt"
	"os"

	"github.com/vault12/zaxmail/internal/zaxcli"
)

func main() {
	if err := zaxcli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
