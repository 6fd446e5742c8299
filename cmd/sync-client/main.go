// sync-client tails the fetch events of a mirror-server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	synchub "novelhub/internal/sync"
	"novelhub/pkg/models"
	"novelhub/pkg/utils"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "TCP sync server address")
	pretty := flag.Bool("pretty", false, "pretty print JSON events")
	work := flag.String("work", "", "only print events for this source/nid")
	flag.Parse()

	logger, err := utils.NewLogger(utils.LogConfig{Level: "info"}, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printEvent := func(ev models.FetchEvent) {
		if *work != "" && ev.Work != *work {
			return
		}
		var b []byte
		if *pretty {
			b, _ = json.MarshalIndent(ev, "", "  ")
		} else {
			b, _ = json.Marshal(ev)
		}
		fmt.Println(string(b))
	}

	for {
		logger.Info("connecting", zap.String("addr", *addr))
		err := synchub.Subscribe(ctx, *addr, printEvent)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		logger.Warn("disconnected", zap.Error(err))

		// auto reconnect
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
