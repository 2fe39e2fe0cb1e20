package daemon

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RedisHost != "127.0.0.1" {
		t.Fatalf("RedisHost = %q, want 127.0.0.1", cfg.RedisHost)
	}
	if cfg.RedisPort != 6379 {
		t.Fatalf("RedisPort = %d, want 6379", cfg.RedisPort)
	}
	if cfg.SerialDevice != "/dev/ttyACM0" {
		t.Fatalf("SerialDevice = %q, want /dev/ttyACM0", cfg.SerialDevice)
	}
	if cfg.AcceptCoins {
		t.Fatal("AcceptCoins should default to false")
	}
}

func TestSignalQuitIsIdempotent(t *testing.T) {
	d := &Daemon{}
	d.signalQuit()
	d.signalQuit()
	if !d.quitOnce {
		t.Fatal("quitOnce should be true after signalQuit")
	}
}
