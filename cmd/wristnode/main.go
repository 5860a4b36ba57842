package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wristnode/internal/buffer"
	"wristnode/internal/clock"
	"wristnode/internal/config"
	"wristnode/internal/consolidate"
	"wristnode/internal/ingest"
	"wristnode/internal/logging"
	"wristnode/internal/pipeline"
	"wristnode/internal/store"
	"wristnode/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "wristnode")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting wristnode",
		zap.Int("window_size", cfg.Window.Size),
		zap.String("store_path", cfg.Store.Path),
		zap.String("transfer_mode", cfg.Transfer.Mode))

	clk := clock.New()
	ring := buffer.NewSampleRing(cfg.Ring.SampleCapacity)

	engine := consolidate.NewEngine(consolidate.Config{
		WindowSize:             cfg.Window.Size,
		SmoothingAlpha:         cfg.Window.SmoothingAlpha,
		SensitivityMargin:      cfg.Window.SensitivityMargin,
		AutoMarginRatio:        cfg.Window.AutoMarginRatio,
		MinSamplesBetweenSteps: cfg.Window.DebounceSamples,
		StreakConfirm:          cfg.Window.StreakConfirm,
		StreakResetSamples:     cfg.Window.StreakResetSamples,
	})

	blob, err := store.NewFileBlob(cfg.Store.Path)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	recordStore := store.NewRecordStore(blob, logger)

	stats := ingest.NewStatistics()
	pipe := pipeline.New(pipeline.Config{
		Interval: cfg.Pipeline.Interval,
		MaxPass:  cfg.Pipeline.MaxPass,
	}, ring, engine, recordStore, stats, logger)

	hooks := &deviceHooks{clk: clk, pipe: pipe, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	// Companion channel.
	var wsServer *http.Server
	switch cfg.Transfer.Mode {
	case "mqtt":
		ch := transfer.NewMQTTChannel(transfer.MQTTConfig{
			Broker:          cfg.Transfer.Broker,
			Port:            cfg.Transfer.Port,
			Username:        cfg.Transfer.Username,
			Password:        cfg.Transfer.Password,
			UseTLS:          cfg.Transfer.UseTLS,
			InsecureSkipTLS: cfg.Transfer.InsecureSkipTLS,
			ClientID:        cfg.Transfer.ClientID,
			DataTopic:       cfg.Transfer.DataTopic,
			ControlTopic:    cfg.Transfer.ControlTopic,
			NotifyTimeout:   cfg.Transfer.NotifyTimeout,
			MaxPayload:      cfg.Transfer.MaxPayload,
		}, logger)
		service := transfer.NewService(recordStore, ch, hooks, paceConfig(cfg), logger)
		if err := ch.Start(service); err != nil {
			logger.Fatal("companion channel failed", zap.Error(err))
		}
		defer ch.Stop()

	case "websocket":
		ch := transfer.NewWSChannel(transfer.WSConfig{
			WriteTimeout: cfg.Transfer.WSWriteTimeout,
			MaxPayload:   cfg.Transfer.MaxPayload,
		}, logger)
		service := transfer.NewService(recordStore, ch, hooks, paceConfig(cfg), logger)
		ch.Bind(service)

		mux := http.NewServeMux()
		mux.Handle("/companion", ch)
		wsServer = &http.Server{Addr: cfg.Transfer.WSAddr, Handler: mux}
		group.Go(func() error {
			logger.Info("companion endpoint listening", zap.String("addr", cfg.Transfer.WSAddr))
			if err := wsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

	case "none":
		logger.Warn("no companion channel configured")
	}

	// Sample sources.
	if cfg.Ingest.Enabled {
		collector := ingest.NewCollector(ingest.Config{
			Broker:          cfg.Ingest.Broker,
			Port:            cfg.Ingest.Port,
			Username:        cfg.Ingest.Username,
			Password:        cfg.Ingest.Password,
			UseTLS:          cfg.Ingest.UseTLS,
			InsecureSkipTLS: cfg.Ingest.InsecureSkipTLS,
			ClientID:        cfg.Ingest.ClientID,
			PageTopic:       cfg.Ingest.PageTopic,
		}, ring, stats, logger)
		if err := collector.Start(); err != nil {
			logger.Fatal("sensor link failed", zap.Error(err))
		}
		defer collector.Stop()
	}
	if cfg.Sampler.Enabled {
		sampler := ingest.NewSampler(ingest.SamplerConfig{
			Interval: cfg.Sampler.Interval,
			StepHz:   cfg.Sampler.StepHz,
		}, ring, clk, stats, logger)
		group.Go(func() error { return sampler.Run(ctx) })
	}

	group.Go(func() error { return pipe.Run(ctx) })

	// Graceful shutdown on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	group.Go(func() error {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		if wsServer != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
			defer done()
			wsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("shutdown with error", zap.Error(err))
	}
	logger.Info("wristnode stopped")
}

func paceConfig(cfg *config.Config) transfer.Config {
	return transfer.Config{
		PaceBase:  cfg.Transfer.PaceBase,
		PaceStep:  cfg.Transfer.PaceStep,
		PaceEvery: cfg.Transfer.PaceEvery,
		PaceMax:   cfg.Transfer.PaceMax,
	}
}

// deviceHooks wires protocol events into device-level side effects.
type deviceHooks struct {
	clk    *clock.Clock
	pipe   *pipeline.Pipeline
	logger *zap.Logger
}

func (h *deviceHooks) EraseCompleted() {
	h.pipe.RequestReset()
}

func (h *deviceHooks) TimeSync(epochSeconds int64) {
	h.clk.SetEpoch(epochSeconds)
	h.logger.Info("clock synced", zap.Int64("epoch_seconds", epochSeconds))
}

func (h *deviceHooks) TransferFinished(sent int, err error) {
	if err != nil {
		h.logger.Warn("transfer finished with error", zap.Int("records_sent", sent), zap.Error(err))
		return
	}
	h.logger.Info("transfer finished", zap.Int("records_sent", sent))
}
