package admin

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jeeves-cluster-organization/uspagent/internal/config"
	"github.com/jeeves-cluster-organization/uspagent/internal/controller"
)

func dialUnix(t *testing.T, socketPath string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///admin",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return net.Dial("unix", socketPath)
		}),
	)
	require.NoError(t, err)
	return conn
}

func TestGracefulServerServesOverUnixSocketWithJSONCodec(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "admin.sock")

	ctrls := controller.New()
	ctrls.Upsert(&controller.Controller{EndpointID: "os::acs-1", Role: controller.RoleFullAccess})

	srv := New(config.Default(), ctrls, nil, nil, nil, nil, nil, nil)
	gs := NewGracefulServer(srv, socketPath, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gs.Start(ctx)

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	conn := dialUnix(t, socketPath)
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	var resp ListControllersResponse
	err := conn.Invoke(callCtx, "/uspagent.admin.AdminService/ListControllers",
		&ListControllersRequest{}, &resp,
		grpc.CallContentSubtype(codecName), grpc.WaitForReady(true))
	require.NoError(t, err)
	require.Len(t, resp.Controllers, 1)
	assert.Equal(t, "os::acs-1", resp.Controllers[0].EndpointID)

	gs.ShutdownWithTimeout(time.Second)
}

func TestGracefulServerRemovesStaleSocketFile(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "admin.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o644))

	srv := New(config.Default(), controller.New(), nil, nil, nil, nil, nil, nil)
	gs := NewGracefulServer(srv, socketPath, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go gs.Start(ctx)

	require.Eventually(t, func() bool {
		fi, err := os.Stat(socketPath)
		return err == nil && fi.Mode()&os.ModeSocket != 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	gs.ShutdownWithTimeout(time.Second)
}
