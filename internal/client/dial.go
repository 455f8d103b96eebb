package client

import (
	"crypto/tls"
	"fmt"
	"net"

	"dtltunnel/internal/conf"
	"dtltunnel/internal/stream"
)

// dialBridge opens a new connection to the Host's bridge port, wrapping
// it in TLS when cfg.Enabled (spec §4.1: TLS is an opaque wrapper decided
// at construction, transparent above the Stream layer).
func dialBridge(serverHost string, bridgePort int, cfg conf.TLS) (*stream.Stream, error) {
	addr := fmt.Sprintf("%s:%d", serverHost, bridgePort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return stream.New(conn), nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.Insecure, ServerName: serverHost}
	return stream.NewTLSClient(conn, tlsCfg), nil
}

// dialLocalApp opens a connection to the Client's local application,
// optionally under TLS (spec §6 --appSSL/--appSSLUnsafe).
func dialLocalApp(appHost string, appPort int, cfg conf.TLS) (*stream.Stream, error) {
	addr := fmt.Sprintf("%s:%d", appHost, appPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return stream.New(conn), nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.Insecure, ServerName: appHost}
	return stream.NewTLSClient(conn, tlsCfg), nil
}
