package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	updates := make(chan AppConfig, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w := Watcher{Path: path, Cooldown: 10 * time.Millisecond}
	go func() {
		_ = w.Start(ctx, func(cfg AppConfig) {
			select {
			case updates <- cfg:
			default:
			}
		})
	}()

	// 等watcher就位后再改文件
	time.Sleep(100 * time.Millisecond)
	updated := validConfig + "metricsAddr: \":9200\"\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-updates:
		if cfg.MetricsAddr != ":9200" {
			t.Fatalf("expected reloaded metricsAddr, got %q", cfg.MetricsAddr)
		}
	case <-ctx.Done():
		t.Fatal("watcher did not deliver updated config")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	updates := make(chan AppConfig, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := Watcher{Path: path, Cooldown: 10 * time.Millisecond}
	go func() {
		_ = w.Start(ctx, func(cfg AppConfig) { updates <- cfg })
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("env: \nsymbol: \n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-updates:
		t.Fatalf("invalid config must not be delivered: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
