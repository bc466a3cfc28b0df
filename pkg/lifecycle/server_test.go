package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error

	mu      sync.Mutex
	stopped bool
	order   *[]string
}

func (s *fakeService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}

	<-ctx.Done()

	return ctx.Err()
}

func (s *fakeService) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}

	return s.stopErr
}

func (s *fakeService) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopped
}

func TestRunServerStopsOnContextCancel(t *testing.T) {
	var order []string

	first := &fakeService{name: "first", order: &order}
	second := &fakeService{name: "second", order: &order}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- RunServer(ctx, &ServerOptions{
			ServiceName: "test",
			Services:    []Service{first, second},
			Logger:      zerolog.Nop(),
		})
	}()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunServer did not return")
	}

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestRunServerReturnsServiceError(t *testing.T) {
	boom := errors.New("boom")
	healthy := &fakeService{name: "healthy"}
	failing := &fakeService{name: "failing", startErr: boom}

	err := RunServer(context.Background(), &ServerOptions{
		ServiceName:     "test",
		Services:        []Service{healthy, failing},
		ShutdownTimeout: time.Second,
		Logger:          zerolog.Nop(),
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, healthy.wasStopped())
	assert.True(t, failing.wasStopped())
}

func TestRunServerReportsStopErrors(t *testing.T) {
	stopErr := errors.New("stuck")
	svc := &fakeService{name: "stuck", stopErr: stopErr}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunServer(ctx, &ServerOptions{Services: []Service{svc}, Logger: zerolog.Nop()})
	require.ErrorIs(t, err, stopErr)
}

func TestHTTPService(t *testing.T) {
	svc := NewHTTPService("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}), 4, zerolog.Nop())

	errCh := make(chan error, 1)

	go func() { errCh <- svc.Start(context.Background()) }()

	require.Eventually(t, func() bool { return svc.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/", svc.Addr()))
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok", string(body))

	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, <-errCh)
}
