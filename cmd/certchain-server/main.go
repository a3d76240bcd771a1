package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"certchain/pkg/app"
	"certchain/pkg/config"
	"certchain/pkg/core"
	"certchain/pkg/logging"
	"certchain/pkg/server"
	"certchain/pkg/service"

	"github.com/spf13/viper"
)

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.certchain/config.yaml)")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	_, logCloser, err := logging.Setup(config.LogConfig())
	if err != nil {
		log.Fatalf("❌ Logging error: %v", err)
	}
	defer logCloser.Close()

	// 2. 没有 SHA-256 就无法工作，直接退出
	if err := core.CheckProvider(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	// 3. Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Init Core Application
	application, err := app.NewApp(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to initialize app: %v", err)
	}
	defer application.Close()
	fmt.Printf("✅ CertChain initialized, %d blocks loaded.\n", application.Chain.Len())

	// 5. Setup Server
	srv := server.New(server.Config{
		Addr:         viper.GetString("server.addr"),
		Workers:      viper.GetInt("server.workers"),
		QueueSize:    viper.GetInt("server.queue_size"),
		ReadTimeout:  viper.GetDuration("server.read_timeout"),
		WriteTimeout: viper.GetDuration("server.write_timeout"),
		MaxBodyBytes: viper.GetInt64("server.max_body_bytes"),
	}, service.NewCertificateService(application), application.Chain.Len)

	// 6. Serve until signal
	fmt.Printf("🚀 Server listening on %s...\n", viper.GetString("server.addr"))
	if err := srv.ListenAndServe(ctx); err != nil {
		// log.Fatalf 会跳过 defer，先手动释放资源
		application.Close()
		log.Fatalf("❌ Failed to serve: %v", err)
	}

	fmt.Println("\n⚠️  Shutting down server...")
	fmt.Println("👋 Server stopped.")
}
