package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"

	"main/internal/config"
	"main/internal/gateway"
	"main/internal/maker"
	"main/internal/stream"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON strategy config")
	envPath := flag.String("env", "", "Path to .env file with credentials")
	devMode := flag.Bool("dev", false, "Use the dev venue endpoints")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disable)")
	statusInterval := flag.Duration("status-interval", 30*time.Second, "Status log interval")
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatalf("load env file, err: %+v", err)
		}
	}

	strategy, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config, err: %+v", err)
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "maker",
			ServerAddress:   *profileAddr,
			Tags: map[string]string{
				"symbol": strategy.Symbol,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start, err: %+v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	token := os.Getenv("STANDX_BEARER_TOKEN")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw, err := gateway.NewStandX(nil, gateway.Config{
		Token:        token,
		Symbol:       strategy.Symbol,
		Leverage:     strategy.Leverage,
		PriceTick:    strategy.PriceTick,
		QuantityStep: strategy.QuantityStep,
		DevMode:      *devMode,
	})
	if err != nil {
		log.Fatalf("create gateway, err: %+v", err)
	}

	price := stream.NewPrice(ctx, *devMode)
	account := stream.NewAccount(ctx, *devMode, token)

	engine := maker.New(strategy, gw, price, account)

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := engine.Initialize(initCtx); err != nil {
		initCancel()
		log.Fatalf("initialize engine, err: %+v", err)
	}
	initCancel()

	go logStatus(ctx, engine, *statusInterval)

	if err := engine.Run(ctx); err != nil {
		log.Fatalf("engine run, err: %+v", err)
	}
}

func logStatus(ctx context.Context, engine *maker.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := engine.Status()
			logs.Infof("status, price: %s, position: %s, buy: %s, sell: %s, points: %s, placed: %d, cancelled: %d, filled: %d",
				s.LastPrice, s.Position.Quantity, s.BuyState, s.SellState,
				s.Rewards.MakerPoints, s.Metrics.Placed, s.Metrics.Cancelled, s.Metrics.Filled)
		}
	}
}
