// export-mirror writes every stored work in the folder remote layout, so the
// output directory can be served by a `kind = "folder"` remote elsewhere.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"novelhub/internal/app"
	"novelhub/internal/dump"
	"novelhub/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file (default $NOVELHUB_CONFIG or ~/.novelhub/config.toml)")
		outDir     = flag.String("out", "data/mirror", "output directory; one subdirectory per source")
		source     = flag.String("source", "", "only export works from this source")
	)
	flag.Parse()

	cfg, err := utils.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Log, false)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := export(ctx, cfg, logger, *outDir, *source); err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}
}

func export(ctx context.Context, cfg utils.Config, logger *zap.Logger, outDir, source string) error {
	a, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	folder, err := dump.Get("folder")
	if err != nil {
		return err
	}

	works, err := a.Store.List(ctx)
	if err != nil {
		return err
	}

	exported := 0
	for _, ws := range works {
		if source != "" && ws.Address.Source() != source {
			continue
		}
		w, err := a.Store.Open(ctx, ws.Address)
		if err != nil {
			return err
		}
		res, err := folder.Dump(ctx, w, filepath.Join(outDir, ws.Address.Source()))
		if err != nil {
			logger.Warn("skip work", zap.Stringer("work", ws.Address), zap.Error(err))
			continue
		}
		exported++
		logger.Info("exported",
			zap.Stringer("work", ws.Address),
			zap.String("path", res.Path),
			zap.Int("chapters", res.Chapters),
			zap.Int("missing", len(res.Missing)),
		)
	}
	logger.Info("export finished", zap.Int("works", exported), zap.String("out", outDir))
	return nil
}
