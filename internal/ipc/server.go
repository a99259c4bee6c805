package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"lectern/internal/daemon"
	"lectern/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Lectern", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	job, err := s.daemon.API().Submit(s.ctx, req)
	if err != nil {
		return err
	}
	resp.Job = job
	s.logger.Info("job submitted via IPC",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "job_submitted"))
	return nil
}

func (s *service) Status(req StatusRequest, resp *StatusResponse) error {
	job, err := s.daemon.API().Status(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = job
	return nil
}

func (s *service) Result(req ResultRequest, resp *ResultResponse) error {
	doc, err := s.daemon.API().Result(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Document = doc
	return nil
}

func (s *service) Resolve(req ResolveRequest, resp *ResolveResponse) error {
	job, err := s.daemon.API().Resolve(s.ctx, req.ID, req.Choice, req.NewKey)
	if err != nil {
		return err
	}
	resp.Job = job
	s.logger.Info("job resolved via IPC",
		logging.Int64(logging.FieldJobID, req.ID),
		logging.String("choice", req.Choice),
		logging.String(logging.FieldEventType, "job_resolved"))
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	cancelled, err := s.daemon.API().Cancel(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Cancelled = cancelled
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	jobs, err := s.daemon.API().List(s.ctx, req.Statuses)
	if err != nil {
		return err
	}
	resp.Jobs = jobs
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	updated, err := s.daemon.API().RetryFailed(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	return nil
}

func (s *service) QueueClear(req QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.daemon.API().Clear(s.ctx, req.Scope)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	counts, err := s.daemon.API().Stats(s.ctx)
	if err != nil {
		return err
	}
	resp.Counts = counts
	return nil
}

func (s *service) DaemonStatus(_ DaemonStatusRequest, resp *DaemonStatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.QueueDBPath = status.QueueDBPath
	resp.LockPath = status.LockFilePath
	resp.Pipeline = s.daemon.API().PipelineStatus(s.ctx)
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func (s *service) KeysAdd(req KeysAddRequest, resp *KeysAddResponse) error {
	cred, err := s.daemon.API().KeysAdd(req.Principal, req.Key)
	if err != nil {
		return err
	}
	resp.Credential = cred
	return nil
}

func (s *service) KeysRemove(req KeysRemoveRequest, resp *KeysRemoveResponse) error {
	if err := s.daemon.API().KeysRemove(req.Principal, req.Ref); err != nil {
		return err
	}
	resp.Removed = true
	return nil
}

func (s *service) KeysList(req KeysListRequest, resp *KeysListResponse) error {
	resp.Credentials = s.daemon.API().KeysList(req.Principal)
	return nil
}
