package tlsutil

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %d, want %d", cfg.MinVersion, tls.VersionTLS12)
	}
	if len(cfg.CipherSuites) == 0 {
		t.Error("CipherSuites should not be empty")
	}
}

func TestServerTLSConfigFor(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"redis.internal:6380", "redis.internal"},
		{"10.0.0.5:6379", "10.0.0.5"},
		{"cache-host", "cache-host"},
	}
	for _, tt := range tests {
		cfg := ServerTLSConfigFor(tt.addr)
		if cfg.ServerName != tt.want {
			t.Errorf("ServerTLSConfigFor(%q).ServerName = %q, want %q", tt.addr, cfg.ServerName, tt.want)
		}
		if cfg.MinVersion != tls.VersionTLS12 {
			t.Errorf("ServerTLSConfigFor(%q) lost hardening", tt.addr)
		}
	}
}

func TestSecureTransport(t *testing.T) {
	tr := SecureTransport(TransportOptions{MaxIdleConns: 7})
	if tr.TLSClientConfig == nil {
		t.Fatal("TLSClientConfig should not be nil")
	}
	if tr.MaxIdleConns != 7 {
		t.Errorf("MaxIdleConns = %d, want 7", tr.MaxIdleConns)
	}
	if tr.IdleConnTimeout != 90*time.Second {
		t.Errorf("IdleConnTimeout default not applied: %v", tr.IdleConnTimeout)
	}
}

func TestSecureHTTPClient(t *testing.T) {
	timeout := 15 * time.Second
	client := SecureHTTPClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}
	if client.Transport == nil {
		t.Fatal("Transport should not be nil")
	}
}
