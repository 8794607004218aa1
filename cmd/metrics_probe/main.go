package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"signal-executor/infrastructure/monitor"
)

// 启动一份带样例数据的执行器指标，便于在没有交易所的情况下调试 Prometheus/Grafana。
func main() {
	addr := flag.String("metricsAddr", ":9100", "Prometheus 指标监听地址")
	positions := flag.Int("positions", 2, "模拟持仓数")
	flag.Parse()

	m := monitor.New(monitor.DefaultConfig())
	m.SetOpenPositions(*positions)
	m.RecordSignalReceived()
	m.RecordOrderSubmitted()
	m.RecordSubmitAttempt()
	m.RecordOrderAccepted()
	m.RecordSubmitLatency(0.12)
	m.RecordBracket("OCO", "ok")
	m.RecordStreamEvent("NEW")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		if err := http.ListenAndServe(*addr, mux); err != nil {
			log.Fatalf("metrics server: %v", err)
		}
	}()
	fmt.Printf("metrics_probe started at %s\n", *addr)

	// 周期性推进计数，观察值变化
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	n := 0
	for range ticker.C {
		n++
		m.RecordSignalReceived()
		if n%3 == 0 {
			m.RecordSizingRejection("ExposureLimitReached")
			continue
		}
		m.RecordOrderSubmitted()
		m.RecordSubmitAttempt()
		m.RecordOrderAccepted()
		m.RecordSubmitLatency(0.05 + float64(n%5)*0.02)
		m.RecordStreamEvent("TRADE")
	}
}
