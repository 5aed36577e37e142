package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/wingetupdater/winget-updater/internal/checker"
	"github.com/wingetupdater/winget-updater/internal/config"
	"github.com/wingetupdater/winget-updater/internal/history"
	"github.com/wingetupdater/winget-updater/internal/logging"
	"github.com/wingetupdater/winget-updater/internal/winget"
)

// ErrAlreadyRunning is returned by Start when another daemon owns the address.
var ErrAlreadyRunning = errors.New("another winget updater daemon is already running")

// maxRequestSize bounds a single request line.
const maxRequestSize = 1 << 20

// Handler implements the daemon side of every message type.
type Handler interface {
	GetStatus() *StatusData

	// CheckUpdates runs a check. A non-forced call fails while another
	// check is running.
	CheckUpdates(ctx context.Context, force bool) (*CheckResultData, error)

	GetUpdates() *UpdatesData
	GetLastCheck() *LastCheckData
	GetSettings() (*config.Settings, error)

	// SaveSettings validates, persists and applies s, returning the stored
	// settings.
	SaveSettings(s *config.Settings) (*config.Settings, error)

	InstallAll(ctx context.Context) (*winget.UpgradeResult, error)
	GetHistory(ctx context.Context, limit int) ([]history.Entry, error)
	GetRecentLogs(count int) []LogEntryData

	// Shutdown asks the daemon to stop. It must not block on the IPC server.
	Shutdown() error
}

// Server handles IPC requests from clients.
type Server struct {
	handler  Handler
	logger   *logging.Logger
	address  string
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewServer creates a server on the default address for this platform.
func NewServer(handler Handler, logger *logging.Logger) *Server {
	return NewServerWithPath(handler, logger, DefaultAddress())
}

// NewServerWithPath creates a server listening on address (a pipe name on
// Windows, a socket path elsewhere).
func NewServerWithPath(handler Handler, logger *logging.Logger, address string) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler: handler,
		logger:  logger,
		address: address,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Address returns the pipe name or socket path.
func (s *Server) Address() string {
	return s.address
}

// Start begins listening for IPC connections.
func (s *Server) Start() error {
	if IsServerRunning(s.address) {
		return ErrAlreadyRunning
	}

	listener, err := listen(s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.listener = listener

	s.logger.Info().Str("address", s.address).Msg("IPC server started")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and waits for in-flight requests. Running checks
// are cancelled.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Debug().Msg("Stopping IPC server")
		s.cancel()

		if s.listener == nil {
			return
		}
		s.listener.Close()

		s.wg.Wait()
		cleanup(s.address)
		s.logger.Info().Msg("IPC server stopped")
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("Failed to accept IPC connection")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(30 * time.Second))

	reader := bufio.NewReader(io.LimitReader(conn, maxRequestSize))
	data, err := reader.ReadBytes('\n')
	if err != nil {
		if err != io.EOF {
			s.logger.Warn().Err(err).Msg("Failed to read IPC request")
		}
		return
	}

	req, err := DecodeRequest(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to decode IPC request")
		s.sendResponse(conn, NewErrorResponse("invalid request format"))
		return
	}

	s.logger.Debug().Str("type", string(req.Type)).Msg("Received IPC request")

	timeout := Timeout(req.Type)
	conn.SetDeadline(time.Now().Add(timeout + 5*time.Second))
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	resp := s.handleRequest(ctx, req)
	s.sendResponse(conn, resp)
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Type {
	case MsgGetStatus:
		return NewDataResponse(req.Type, s.handler.GetStatus())

	case MsgCheckUpdates:
		result, err := s.handler.CheckUpdates(ctx, req.GetCheckRequest().Force)
		if err != nil {
			return errorResponse(err)
		}
		return NewDataResponse(req.Type, result)

	case MsgGetUpdates:
		return NewDataResponse(req.Type, s.handler.GetUpdates())

	case MsgGetLastCheck:
		return NewDataResponse(req.Type, s.handler.GetLastCheck())

	case MsgGetSettings:
		settings, err := s.handler.GetSettings()
		if err != nil {
			return errorResponse(err)
		}
		return NewDataResponse(req.Type, settings)

	case MsgSaveSettings:
		settings, err := req.GetSettings()
		if err != nil {
			return errorResponse(err)
		}
		saved, err := s.handler.SaveSettings(settings)
		if err != nil {
			return errorResponse(err)
		}
		return NewDataResponse(req.Type, saved)

	case MsgInstallAll:
		result, err := s.handler.InstallAll(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return NewDataResponse(req.Type, result)

	case MsgGetHistory:
		entries, err := s.handler.GetHistory(ctx, req.GetHistoryRequest().Limit)
		if err != nil {
			return errorResponse(err)
		}
		return NewDataResponse(req.Type, &HistoryData{Entries: entries})

	case MsgGetRecentLogs:
		count := req.GetRecentLogsRequest().Count
		if count <= 0 {
			count = 100
		}
		return NewDataResponse(req.Type, &RecentLogsData{Entries: s.handler.GetRecentLogs(count)})

	case MsgShutdown:
		if err := s.handler.Shutdown(); err != nil {
			return errorResponse(err)
		}
		return NewOKResponse()

	default:
		return NewErrorResponse(fmt.Sprintf("unknown message type: %s", req.Type))
	}
}

// errorResponse builds a failure response, tagging refusals caused by a
// running check with CodeBusy.
func errorResponse(err error) *Response {
	resp := NewErrorResponse(err.Error())
	if errors.Is(err, checker.ErrCheckInProgress) {
		resp.Code = CodeBusy
	}
	return resp
}

// sendResponse sends a response to the client.
func (s *Server) sendResponse(conn net.Conn, resp *Response) {
	data, err := resp.Encode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode IPC response")
		data, _ = NewErrorResponse("failed to encode response").Encode()
	}

	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send IPC response")
	}
}
