package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/upstream"
	logsvc "github.com/trezcool/edmm/services/logger"
	"github.com/trezcool/edmm/storage"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.New(conf, "ADMIN")

	// set up DB
	stores, err := storage.Open(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}

	cli := &commandLine{
		conf:   conf,
		stores: stores,
		client: upstream.NewClient(conf.Upstream, nil),
		logger: logger,
	}
	err = newRootCmd(cli).Execute()
	_ = stores.Close()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
