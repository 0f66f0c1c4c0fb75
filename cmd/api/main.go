package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcp-scheduler/internal/app"
	"mcp-scheduler/internal/app/api"
	"mcp-scheduler/pkg/config"
)

var (
	configPath = flag.String("config", "configs/api.yaml", "配置文件路径")
	listenAddr = flag.String("addr", "", "监听地址（如 :8080），覆盖配置文件中的端口")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败 (%s): %v", *configPath, err)
	}

	bootstrap, err := app.NewBootstrap(cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	application, err := api.NewApp(bootstrap)
	if err != nil {
		log.Fatalf("创建调度服务失败: %v", err)
	}

	addr := *listenAddr
	if addr == "" {
		addr = ":8080"
		if cfg.API.Port > 0 {
			addr = fmt.Sprintf(":%d", cfg.API.Port)
		}
	}

	go func() {
		if err := application.Run(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("调度服务异常退出: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		log.Printf("关闭失败: %v", err)
	}
	log.Println("调度服务已关闭")
}
