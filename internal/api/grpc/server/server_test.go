package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dtroode/authkeeper/internal/mocks"
)

func TestGRPCServer_Address(t *testing.T) {
	s := NewGRPCServer(grpc.NewServer(), ":0")
	assert.Equal(t, ":0", s.Address())
}

func TestGRPCServer_Stop_NotStarted(t *testing.T) {
	s := NewGRPCServer(grpc.NewServer(), ":0")
	assert.NoError(t, s.Stop(context.Background()))
}

func TestGRPCServer_Start_ListenError(t *testing.T) {
	sec := mocks.NewSecurityLayer(t)
	sec.On("Listen", "tcp", ":0").Return(nil, errors.New("address in use"))

	err := NewGRPCServer(grpc.NewServer(), ":0").Start(sec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestGRPCServer_StartServeStop(t *testing.T) {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, health.NewServer())
	srv := NewGRPCServer(gs, ":0")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sec := mocks.NewSecurityLayer(t)
	sec.On("Listen", "tcp", ":0").Return(ln, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start(sec) }()

	conn, err := grpc.NewClient(ln.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{}, grpc.WaitForReady(true))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, <-done)
	sec.AssertCalled(t, "Listen", "tcp", mock.Anything)
}
