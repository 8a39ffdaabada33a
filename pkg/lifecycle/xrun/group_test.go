package xrun

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/omeyang/xgovern/pkg/observability/xlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func withSignals(ctx context.Context, c <-chan os.Signal) context.Context {
	return context.WithValue(ctx, signalChanKey{}, c)
}

func TestGroup_Empty(t *testing.T) {
	g, _ := NewGroup(context.Background())
	if err := g.Wait(); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}

func TestGroup_ServiceErrorCancelsOthers(t *testing.T) {
	trigger := errors.New("trigger")
	var stopped atomic.Bool

	g, ctx := NewGroup(context.Background())
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Store(true)
		return ctx.Err()
	})
	g.Go(func(context.Context) error { return trigger })

	if err := g.Wait(); !errors.Is(err, trigger) {
		t.Errorf("Wait() = %v, want trigger", err)
	}
	if !stopped.Load() {
		t.Error("other service should observe cancellation")
	}
	if ctx.Err() == nil {
		t.Error("group context should be cancelled")
	}
}

func TestGroup_CancelCause(t *testing.T) {
	cause := errors.New("shutdown requested")
	g, _ := NewGroup(context.Background())
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Cancel(cause)
	if err := g.Wait(); !errors.Is(err, cause) {
		t.Errorf("Wait() = %v, want cause", err)
	}

	plain, _ := NewGroup(context.Background())
	plain.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	plain.Cancel(nil)
	if err := plain.Wait(); err != nil {
		t.Errorf("Wait() after Cancel(nil) = %v, want nil", err)
	}
}

func TestGroup_NilFunc(t *testing.T) {
	g, _ := NewGroup(context.Background())
	g.Go(nil)
	if err := g.Wait(); !errors.Is(err, ErrNilFunc) {
		t.Errorf("Wait() = %v, want ErrNilFunc", err)
	}
}

func TestGroup_GoWithNameLogs(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := xlog.New().SetOutput(&buf).SetLevel(xlog.LevelDebug).Build()
	if err != nil {
		t.Fatal(err)
	}

	g, _ := NewGroup(context.Background(), WithLogger(logger), WithName("gate"))
	g.GoWithName("worker", func(context.Context) error { return errors.New("bad") })
	_ = g.Wait() //nolint:errcheck // 只检查日志

	out := buf.String()
	for _, want := range []string{"service starting", "service exited with error", "group=gate", "service=worker"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestSignal(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	g, _ := NewGroup(withSignals(context.Background(), sigs))
	g.Go(Signal())
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	sigs <- syscall.SIGTERM
	err := g.Wait()
	if !errors.Is(err, ErrSignal) {
		t.Fatalf("Wait() = %v, want ErrSignal", err)
	}
	var sigErr *SignalError
	if !errors.As(err, &sigErr) || sigErr.Signal != syscall.SIGTERM {
		t.Errorf("signal = %v", sigErr)
	}
}

func TestOnSignal(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(withSignals(context.Background(), sigs))

	done := make(chan error, 1)
	go func() {
		done <- OnSignal(func(context.Context, os.Signal) error {
			calls.Add(1)
			return nil
		})(ctx)
	}()

	sigs <- syscall.SIGHUP
	sigs <- syscall.SIGHUP
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("OnSignal() = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestTicker(t *testing.T) {
	if err := Ticker(0, func(context.Context) error { return nil })(context.Background()); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("Ticker(0) = %v", err)
	}

	stop := errors.New("stop")
	var n atomic.Int32
	err := Ticker(time.Millisecond, func(context.Context) error {
		if n.Add(1) == 3 {
			return stop
		}
		return nil
	})(context.Background())
	if !errors.Is(err, stop) || n.Load() != 3 {
		t.Errorf("Ticker() = %v after %d ticks", err, n.Load())
	}
}

func TestHTTPServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		ReadHeaderTimeout: time.Second,
	}

	g, _ := NewGroup(context.Background())
	g.Go(HTTPServer(srv, lis, time.Second))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + lis.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	g.Cancel(nil)
	if err := g.Wait(); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestGRPCServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.NewServer())

	g, _ := NewGroup(context.Background())
	g.Go(GRPCServer(srv, lis, time.Second))
	g.Cancel(nil)
	if err := g.Wait(); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestServers_Nil(t *testing.T) {
	if err := HTTPServer(nil, nil, 0)(context.Background()); !errors.Is(err, ErrNilServer) {
		t.Errorf("HTTPServer(nil) = %v", err)
	}
	if err := GRPCServer(nil, nil, 0)(context.Background()); !errors.Is(err, ErrNilServer) {
		t.Errorf("GRPCServer(nil) = %v", err)
	}
}
