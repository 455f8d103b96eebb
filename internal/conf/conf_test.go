package conf

import "testing"

func TestHostConfDefaults(t *testing.T) {
	var c HostConf
	c.setDefaults()
	if c.TCPPort != 9000 {
		t.Fatalf("got tcpPort %d, want 9000", c.TCPPort)
	}
	if c.HTTPPort != 8000 {
		t.Fatalf("got httpPort %d, want 8000", c.HTTPPort)
	}
	if c.WebPort != 0 {
		t.Fatalf("got webPort %d, want 0 (disabled)", c.WebPort)
	}
	if err := c.validate(); err != nil {
		t.Fatalf("defaults should validate cleanly: %v", err)
	}
}

func TestHostConfRejectsSamePort(t *testing.T) {
	c := HostConf{TCPPort: 9000, HTTPPort: 9000}
	if err := c.validate(); err == nil {
		t.Fatalf("expected validation error for duplicate tcp/http ports")
	}
}

func TestClientConfDefaults(t *testing.T) {
	c := ClientConf{AppType: "tcp", ServerHost: "host", ServerTarget: "7000"}
	c.setDefaults()
	if c.BridgePort != 9000 {
		t.Fatalf("got bridgePort %d, want 9000", c.BridgePort)
	}
	if c.Pools != 1 {
		t.Fatalf("got pools %d, want 1", c.Pools)
	}
	if err := c.validate(); err != nil {
		t.Fatalf("defaults should validate cleanly: %v", err)
	}
}

func TestClientConfRejectsBadAppType(t *testing.T) {
	c := ClientConf{AppType: "ftp", ServerHost: "h", ServerTarget: "7000"}
	if err := c.validate(); err == nil {
		t.Fatalf("expected validation error for bad appType")
	}
}
