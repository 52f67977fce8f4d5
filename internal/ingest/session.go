package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"caster/internal/logging"
	"caster/internal/recordings"
	"caster/internal/transport"
)

// clientSession handles one recording client connection. Segments arrive in
// capture order over the single connection, so staging files are built by
// straight appends.
type clientSession struct {
	srv    *Server
	conn   transport.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	identity transport.Identity
	files    map[string]*os.File
	nextSeq  map[string]int
}

func newClientSession(srv *Server, conn transport.Conn, remote string) *clientSession {
	return &clientSession{
		srv:     srv,
		conn:    conn,
		logger:  srv.logger.With(logging.String("remote", remote)),
		files:   make(map[string]*os.File),
		nextSeq: make(map[string]int),
	}
}

func (c *clientSession) run(ctx context.Context) {
	defer c.close()
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("connection closed", logging.Error(err))
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *clientSession) close() {
	c.srv.hub.drop(c)
	for filename, file := range c.files {
		if err := file.Close(); err != nil {
			c.logger.Warn("staging file close failed",
				logging.String("filename", filename),
				logging.Error(err),
			)
		}
	}
	c.files = nil
	_ = c.conn.Close()
}

func (c *clientSession) write(msg transport.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(msg)
}

func (c *clientSession) handle(ctx context.Context, msg transport.Message) {
	switch msg.Type {
	case transport.TypeIdentify:
		c.handleIdentify(msg)
	case transport.TypeSegment:
		c.handleSegment(msg)
	case transport.TypeHeartbeat:
		c.handleHeartbeat(msg)
	case transport.TypeRequestProcessing:
		c.handleRequestProcessing(ctx, msg)
	case transport.TypeStatusQuery:
		c.handleStatusQuery(ctx, msg)
	case transport.TypeCleanupComplete:
		c.handleCleanupComplete(ctx, msg)
	default:
		c.logger.Debug("unhandled message", logging.String("type", string(msg.Type)))
	}
}

func (c *clientSession) handleIdentify(msg transport.Message) {
	c.identity = transport.Identity{UserID: msg.UserID, WorkspaceID: msg.WorkspaceID}
	c.logger.Info("client identified",
		logging.String("user_id", msg.UserID),
		logging.String("workspace_id", msg.WorkspaceID),
	)
	if err := c.write(transport.Message{Type: transport.TypeUserIdentified, UserID: msg.UserID}); err != nil {
		c.logger.Warn("identify ack failed", logging.Error(err))
	}
}

func (c *clientSession) stagingPath(filename string) string {
	return filepath.Join(c.srv.cfg.Paths.StagingDir, filepath.Base(filename))
}

func (c *clientSession) handleSegment(msg transport.Message) {
	if msg.Filename == "" {
		c.logger.Warn("segment without filename dropped")
		return
	}
	file, ok := c.files[msg.Filename]
	if !ok {
		path := c.stagingPath(msg.Filename)
		var err error
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			c.logger.Error("staging file open failed",
				logging.String("filename", msg.Filename),
				logging.Error(err),
			)
			return
		}
		c.files[msg.Filename] = file
	}
	if expected := c.nextSeq[msg.Filename]; msg.Seq != expected {
		c.logger.Warn("segment sequence gap",
			logging.String("filename", msg.Filename),
			logging.Int("expected", expected),
			logging.Int("got", msg.Seq),
		)
	}
	c.nextSeq[msg.Filename] = msg.Seq + 1
	if _, err := file.Write(msg.Data); err != nil {
		c.logger.Error("staging append failed",
			logging.String("filename", msg.Filename),
			logging.Error(err),
		)
	}
}

func (c *clientSession) handleHeartbeat(msg transport.Message) {
	ack := transport.Message{
		Type:      transport.TypeHeartbeatAck,
		Timestamp: time.Now().UnixMilli(),
		Filename:  msg.Filename,
	}
	if err := c.write(ack); err != nil {
		c.logger.Debug("heartbeat ack failed", logging.Error(err))
	}
}

// handleRequestProcessing finalizes the staging file and reserves a job.
// Reservation is idempotent by filename, so a client that re-issues the
// request after a reconnect does not create a duplicate job.
func (c *clientSession) handleRequestProcessing(ctx context.Context, msg transport.Message) {
	if msg.Filename == "" {
		c.logger.Warn("processing request without filename dropped")
		return
	}
	if file, ok := c.files[msg.Filename]; ok {
		if err := file.Close(); err != nil {
			c.logger.Warn("staging file close failed", logging.Error(err))
		}
		delete(c.files, msg.Filename)
	}

	userID := msg.UserID
	workspaceID := msg.WorkspaceID
	if userID == "" {
		userID = c.identity.UserID
	}
	if workspaceID == "" {
		workspaceID = c.identity.WorkspaceID
	}

	path := c.stagingPath(msg.Filename)
	rec, err := c.srv.store.Reserve(ctx, msg.Filename, userID, workspaceID, path, path)
	if err != nil {
		c.logger.Error("job reservation failed",
			logging.String("filename", msg.Filename),
			logging.Error(err),
		)
		errMsg := transport.Message{
			Type:     transport.TypeProcessingError,
			Filename: msg.Filename,
			Error:    "failed to reserve processing job",
		}
		if werr := c.write(errMsg); werr != nil {
			c.logger.Warn("error reply failed", logging.Error(werr))
		}
		return
	}

	c.srv.hub.watch(msg.Filename, c)
	c.logger.Info("processing requested",
		logging.String("filename", msg.Filename),
		logging.Int("recording_id", int(rec.ID)),
		logging.String("status", string(rec.Status)),
	)
	if rec.Status == recordings.StatusPending {
		c.srv.notifyReceived(rec)
	}
	// A recording that finished while the client was away gets its terminal
	// signal immediately instead of waiting for a status query.
	if rec.Terminal() && !c.retryPending(rec) {
		c.srv.Publish(rec)
	}
}

// retryPending reports whether a failed recording is still inside its retry
// budget, meaning the worker will requeue it after the backoff elapses. Such
// rows must not be reported to clients as terminal.
func (c *clientSession) retryPending(rec *recordings.Recording) bool {
	return rec.Status == recordings.StatusFailed && rec.Attempts < c.srv.cfg.Workflow.MaxAttempts
}

func (c *clientSession) handleStatusQuery(ctx context.Context, msg transport.Message) {
	reply := transport.Message{Type: transport.TypeStatus, Filename: msg.Filename, Status: "unknown"}
	rec, err := c.srv.store.GetByMediaID(ctx, msg.Filename)
	if err != nil {
		c.logger.Warn("status lookup failed", logging.Error(err))
		return
	}
	if rec != nil {
		status := rec.Status
		terminal := rec.Terminal()
		if c.retryPending(rec) {
			// The worker still owns this row and will requeue it. Reporting
			// the raw failure would make a reconnecting client treat a
			// scheduled retry as the final result.
			status = recordings.StatusPending
			terminal = false
		}
		reply.Status = string(status)
		if status == recordings.StatusFailed {
			reply.Error = rec.ErrorMessage
		}
		if !terminal {
			// Keep watching so the terminal push reaches this connection.
			c.srv.hub.watch(msg.Filename, c)
		}
	}
	if err := c.write(reply); err != nil {
		c.logger.Warn("status reply failed", logging.Error(err))
	}
}

// handleCleanupComplete removes the staged upload once the client confirms
// it has released its local resources.
func (c *clientSession) handleCleanupComplete(ctx context.Context, msg transport.Message) {
	if msg.Filename != "" {
		path := c.stagingPath(msg.Filename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("staging cleanup failed",
				logging.String("filename", msg.Filename),
				logging.Error(err),
			)
		}
	}
	if err := c.write(transport.Message{Type: transport.TypeCleanupAcknowledged, Filename: msg.Filename}); err != nil {
		c.logger.Debug("cleanup ack failed", logging.Error(err))
	}
}
