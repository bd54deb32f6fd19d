package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"TravelAgent-Chain/internal/config"
)

// main 是旅行代理守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("travelagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig 读取 TRAVELAGENT_CONFIG 指向的配置文件；默认路径不存在时只使用默认值与环境变量。
func loadConfig() (*config.Config, error) {
	envFile := os.Getenv("TRAVELAGENT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	path := strings.TrimSpace(os.Getenv("TRAVELAGENT_CONFIG"))
	if path != "" {
		return config.Load(path, envFile)
	}
	path = filepath.Join("configs", "travelagent.json")
	if _, err := os.Stat(path); err == nil {
		return config.Load(path, envFile)
	}
	return config.Default(".", envFile)
}
