package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/flowgate/dts/pkg/task"
)

// Run is the kong command: one instance handles one task config file,
// matching the teacher's one-struct-one-command cmd/lint layout.
type Run struct {
	Config string `arg:"" help:"Path to the task INI config file." type:"existingfile"`
}

func (r *Run) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return task.Run(ctx, r.Config)
}

var cli struct {
	Run `cmd:"" help:"Run a data transfer/sync task from an INI config file."`
}

func main() {
	ctx := kong.Parse(&cli)
	ctx.FatalIfErrorf(ctx.Run())
}
