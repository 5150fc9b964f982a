package main

import (
	"context"
	"fmt"
	"os"

	"github.com/amirkhaki/dettrace/cmd/dettrace/cmd"
)

func main() {
	if err := cmd.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "dettrace: %v\n", err)
		os.Exit(1)
	}
}
