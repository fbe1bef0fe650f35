package main

import (
	"context"
	"os"

	"github.com/xueqianLu/ledgerctl/internal/cli"
	"github.com/xueqianLu/ledgerctl/internal/errs"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(errs.ExitCode(err))
	}
}
