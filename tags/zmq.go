package tags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

const servePollTimeout = 100 * time.Millisecond

var errTimeout = errors.New("no reply before timeout")

// ZMQServer answers tag requests on a ZeroMQ REP socket.
type ZMQServer struct {
	socket   *zmq.Socket
	poller   *zmq.Poller
	table    *Table
	endpoint string
	logger   *slog.Logger
}

// ListenZMQ binds a server for table to endpoint, for example
// "tcp://*:44818". A port of "*" picks a free port.
func ListenZMQ(endpoint string, table *Table, logger *slog.Logger) (*ZMQServer, error) {
	socket, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return nil, fmt.Errorf("create tag server socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, err
	}

	if err := socket.Bind(endpoint); err != nil {
		socket.Close()
		return nil, fmt.Errorf("bind tag server to %s: %w", endpoint, err)
	}

	bound, err := socket.GetLastEndpoint()
	if err != nil {
		bound = endpoint
	}

	if logger == nil {
		logger = slog.Default()
	}

	poller := zmq.NewPoller()
	poller.Add(socket, zmq.POLLIN)

	return &ZMQServer{
		socket:   socket,
		poller:   poller,
		table:    table,
		endpoint: bound,
		logger:   logger.With("component", "tag-server"),
	}, nil
}

// Endpoint returns the address the server is bound to.
func (s *ZMQServer) Endpoint() string {
	return s.endpoint
}

// Serve answers requests until ctx is done, then closes the socket. The
// socket must not be used by any other goroutine.
func (s *ZMQServer) Serve(ctx context.Context) error {
	defer s.socket.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		polled, err := s.poller.Poll(servePollTimeout)
		if isErrno(err, syscall.EINTR) {
			continue
		}

		if err != nil {
			return fmt.Errorf("poll tag server: %w", err)
		}

		if len(polled) == 0 {
			continue
		}

		if err := s.answer(); err != nil {
			return err
		}
	}
}

func (s *ZMQServer) answer() error {
	request, err := s.socket.RecvBytes(0)
	if err != nil {
		return fmt.Errorf("receive tag request: %w", err)
	}

	reply, err := s.reply(request)
	if err != nil {
		s.logger.Warn("bad tag request", "error", err)
		reply, err = encodeFailure(err)
		if err != nil {
			return err
		}
	}

	if _, err := s.socket.SendBytes(reply, 0); err != nil {
		return fmt.Errorf("send tag reply: %w", err)
	}

	return nil
}

func (s *ZMQServer) reply(request []byte) ([]byte, error) {
	names, err := decodeRequest(request)
	if err != nil {
		return nil, err
	}

	values, err := s.table.Get(names)
	if err != nil {
		return nil, err
	}

	return encodeReply(values)
}

// ZMQFetcher fetches tags over a fresh REQ socket per call, so a lost reply
// never leaves a socket stuck.
type ZMQFetcher struct {
	timeout time.Duration
}

// NewZMQFetcher creates a fetcher that gives up on a source after timeout,
// one second if timeout is not positive.
func NewZMQFetcher(timeout time.Duration) *ZMQFetcher {
	if timeout <= 0 {
		timeout = time.Second
	}

	return &ZMQFetcher{timeout: timeout}
}

// Fetch sends one request to source.Address and waits for the reply.
func (f *ZMQFetcher) Fetch(ctx context.Context, source Source) ([]string, error) {
	values, err := f.fetch(ctx, source)
	if err != nil {
		return nil, &TransportError{Source: source.Name, Err: err}
	}

	return values, nil
}

func (f *ZMQFetcher) fetch(ctx context.Context, source Source) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	if timeout <= 0 {
		return nil, errTimeout
	}

	socket, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, err
	}
	defer socket.Close()

	if err := socket.SetLinger(0); err != nil {
		return nil, err
	}

	for _, set := range []func(time.Duration) error{
		socket.SetSndtimeo, socket.SetRcvtimeo,
	} {
		if err := set(timeout); err != nil {
			return nil, err
		}
	}

	if err := socket.Connect(source.Address); err != nil {
		return nil, err
	}

	request, err := encodeRequest(source.Tags)
	if err != nil {
		return nil, err
	}

	if _, err := socket.SendBytes(request, 0); err != nil {
		return nil, timeoutOr(err)
	}

	reply, err := socket.RecvBytes(0)
	if err != nil {
		return nil, timeoutOr(err)
	}

	return decodeReply(reply, len(source.Tags))
}

func timeoutOr(err error) error {
	if isErrno(err, syscall.EAGAIN) {
		return errTimeout
	}

	return err
}

func isErrno(err error, errno syscall.Errno) bool {
	var e zmq.Errno
	if errors.As(err, &e) {
		return e == zmq.AsErrno(errno)
	}

	return false
}
