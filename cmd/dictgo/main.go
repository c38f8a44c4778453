package main

import (
	"context"

	"github.com/alecthomas/kong"
)

type Context struct {
	context.Context
	kctx *kong.Context
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("dictgo"),
		kong.Description("Offline tooling for zstd dictionary compression: train, inspect and test dictionaries."),
	)
	err := ctx.Run(&Context{
		kctx:    ctx,
		Context: context.Background(),
	})
	ctx.FatalIfErrorf(err)
}
