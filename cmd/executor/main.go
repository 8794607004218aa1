package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"signal-executor/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	signals := flag.String("signals", "", "信号来源（JSON Lines 文件，- 表示标准输入），默认取配置 signals.source")
	dryRun := flag.Bool("dryRun", false, "使用本地模拟撮合，不向交易所下单")
	flag.Parse()

	opts := container.Options{DryRun: *dryRun}
	switch *signals {
	case "":
	case "-":
		opts.Signals = os.Stdin
	default:
		f, err := os.Open(*signals)
		if err != nil {
			log.Fatalf("打开信号文件失败: %v", err)
		}
		defer f.Close()
		opts.Signals = f
	}

	c, err := container.New(*cfgPath, opts)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	// 非 systemd 环境下 SdNotify 返回 false, nil
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	stopWatchdog := watchdog(ctx, c)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case s := <-quit:
		log.Printf("收到信号 %s，准备退出", s)
	case err := <-c.Done():
		// 账本写入失败等导致协调器停止
		if err != nil {
			log.Printf("协调器退出: %v", err)
			exitCode = 1
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopWatchdog()
	cancel()
	if err := c.Stop(); err != nil {
		log.Printf("停止失败: %v", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}

// watchdog 在 systemd 开启 WatchdogSec 时按一半周期上报存活，组件不健康时停止上报。
func watchdog(ctx context.Context, c *container.Container) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				if c.HealthCheck() == nil {
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}
	}()
	return cancel
}
