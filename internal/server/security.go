package server

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/dtroode/authkeeper/internal/config"
	"github.com/dtroode/authkeeper/internal/model"
)

// NewSecurityLayer returns TLS listener when HTTPS is enabled and plain
// listener otherwise.
func NewSecurityLayer(cfg config.GRPC) model.SecurityLayer {
	if cfg.EnableHTTPS {
		return NewTLSListener(cfg.CertFileName, cfg.PrivateKeyFileName)
	}
	return NewPlainListener()
}

// TLSListener opens TLS listeners from a certificate and key pair on disk.
type TLSListener struct {
	certFileName       string
	privateKeyFileName string
}

// NewTLSListener creates TLSListener. Files are read on every Listen call.
func NewTLSListener(certFileName, privateKeyFileName string) *TLSListener {
	return &TLSListener{
		certFileName:       certFileName,
		privateKeyFileName: privateKeyFileName,
	}
}

// Listen loads the key pair and listens with TLS 1.2 or newer.
func (l *TLSListener) Listen(protocol, addr string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(l.certFileName, l.privateKeyFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	ln, err := tls.Listen(protocol, addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// PlainListener opens unencrypted listeners.
type PlainListener struct{}

func NewPlainListener() *PlainListener {
	return &PlainListener{}
}

func (l *PlainListener) Listen(protocol, addr string) (net.Listener, error) {
	ln, err := net.Listen(protocol, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}
