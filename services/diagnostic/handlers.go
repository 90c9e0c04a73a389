package diagnostic

import (
	"runtime"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/models"
	"go.uber.org/zap"
)

// Pipeline Handler

type PipelineHandler struct {
	l *zap.Logger
}

func (h *PipelineHandler) WithNodeContext(node string) epochflow.NodeDiagnostic {
	return &NodeHandler{
		l: h.l.With(zap.String("node", node)),
	}
}

func (h *PipelineHandler) Aborted(node string, err error) {
	if node == "" {
		h.l.Info("pipeline stopped", zap.Error(err))
		return
	}
	h.l.Warn("pipeline aborted", zap.String("node", node), zap.Error(err))
}

// Node Handler

type NodeHandler struct {
	l *zap.Logger
}

func (h *NodeHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

func (h *NodeHandler) Discarded(offset int64, reason string) {
	h.l.Warn("discarded malformed record", zap.Int64("offset", offset), zap.String("reason", reason))
}

// EmittedOutput is the side channel of the count node, every emitted record is logged at debug level.
func (h *NodeHandler) EmittedOutput(o models.OutputRecord) {
	if ce := h.l.Check(zap.DebugLevel, "emitted output"); ce != nil {
		ce.Write(zap.Int64("seq", o.Seq), zap.Int("keys", len(o.Entries)), zap.Any("entries", o.Entries))
	}
}

func (h *NodeHandler) InjectingCrash(threshold int64, mode epochflow.CrashMode) {
	h.l.Warn("injecting crash", zap.Int64("threshold", threshold), zap.Stringer("mode", mode))
}

func (h *NodeHandler) Truncated(pos int64) {
	h.l.Info("truncated sink to committed position", zap.Int64("position", pos), zap.String("size", humanize.IBytes(uint64(pos))))
}

func (h *NodeHandler) Exhausted(end int64) {
	h.l.Info("source exhausted", zap.Int64("end", end))
}

// Coordinator Handler

type CoordinatorHandler struct {
	l *zap.Logger
}

func (h *CoordinatorHandler) StateChanged(from, to epochflow.CoordinatorState) {
	h.l.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (h *CoordinatorHandler) CycleStarted(epoch uint64) {
	h.l.Debug("checkpoint cycle started", zap.Uint64("epoch", epoch))
}

func (h *CoordinatorHandler) CycleSkipped(epoch uint64, reason string) {
	h.l.Debug("checkpoint cycle skipped", zap.Uint64("epoch", epoch), zap.String("reason", reason))
}

func (h *CoordinatorHandler) Committed(e models.Epoch, size int, took time.Duration) {
	h.l.Info("epoch committed",
		zap.Uint64("epoch", e.ID),
		zap.Int64("offset", e.Offset),
		zap.String("size", humanize.IBytes(uint64(size))),
		zap.Duration("took", took),
	)
}

func (h *CoordinatorHandler) CommitFailed(epoch uint64, err error) {
	h.l.Error("failed to persist epoch, keeping previous epoch", zap.Uint64("epoch", epoch), zap.Error(err))
}

func (h *CoordinatorHandler) StaleAck(node string, epoch, current uint64) {
	h.l.Debug("ignoring stale barrier acknowledgement", zap.String("node", node), zap.Uint64("epoch", epoch), zap.Uint64("current", current))
}

func (h *CoordinatorHandler) Restored(e models.Epoch) {
	h.l.Info("restored epoch", zap.Uint64("epoch", e.ID), zap.Int64("offset", e.Offset))
}

func (h *CoordinatorHandler) Released(end int64) {
	h.l.Info("input fully committed, releasing source", zap.Int64("end", end))
}

// Storage Handler

type StorageHandler struct {
	l *zap.Logger
}

func (h *StorageHandler) Opened(path string, size int64) {
	h.l.Info("opened database", zap.String("path", path), zap.String("size", humanize.IBytes(uint64(size))))
}

func (h *StorageHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Epoch Store Handler

type EpochStoreHandler struct {
	l *zap.Logger
}

func (h *EpochStoreHandler) FreshRun(runID string, configHash uint64) {
	h.l.Info("starting fresh run", zap.String("run", runID), zap.Uint64("config_hash", configHash))
}

func (h *EpochStoreHandler) Relaunched(runID string, launch int, attempts map[string]int) {
	h.l.Info("relaunching run", zap.String("run", runID), zap.Int("launch", launch), zap.Any("attempts", attempts))
}

func (h *EpochStoreHandler) Collected(before uint64, count int) {
	h.l.Debug("removed old epochs", zap.Uint64("before", before), zap.Int("count", count))
}

// Server Handler

type ServerHandler struct {
	l *zap.Logger
}

func (h *ServerHandler) LaunchFailed(runID string, err error) {
	h.l.Warn("launch failed", zap.String("run", runID), zap.Error(err))
}

func (h *ServerHandler) LaunchCrashed(runID string, err error) {
	h.l.Info("launch crashed, awaiting relaunch", zap.String("run", runID), zap.Error(err))
}

func (h *ServerHandler) RunCompleted(runID string, absorbed int64, written int64, took time.Duration) {
	h.l.Info("run completed",
		zap.String("run", runID),
		zap.Int64("absorbed", absorbed),
		zap.String("output", humanize.IBytes(uint64(written))),
		zap.Duration("took", took),
	)
}

func (h *ServerHandler) PipelineGraph(dot []byte) {
	h.l.Debug("pipeline graph", zap.ByteString("dot", dot))
}

func (h *ServerHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Supervisor Handler

type SupervisorHandler struct {
	l *zap.Logger
}

func (h *SupervisorHandler) Relaunching(launch int, delay time.Duration, err error) {
	h.l.Warn("relaunching after crash", zap.Int("launch", launch), zap.Duration("delay", delay), zap.Error(err))
}

func (h *SupervisorHandler) GaveUp(launches int, err error) {
	h.l.Error("giving up after repeated crashes", zap.Int("launches", launches), zap.Error(err))
}

// Stats Handler

type StatsHandler struct {
	l *zap.Logger
}

func (h *StatsHandler) Listening(addr string) {
	h.l.Info("serving metrics", zap.String("addr", addr))
}

func (h *StatsHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

// Cmd Handler

type CmdHandler struct {
	l *zap.Logger
}

func (h *CmdHandler) Starting(version, commit string) {
	h.l.Info("epochflowd starting", zap.String("version", version), zap.String("commit", commit))
}

func (h *CmdHandler) GoVersion() {
	h.l.Info("go version", zap.String("version", runtime.Version()))
}

func (h *CmdHandler) Spawned(pid int, args []string) {
	h.l.Info("spawned child", zap.Int("pid", pid), zap.Strings("args", args))
}

func (h *CmdHandler) ChildExited(code int) {
	h.l.Info("child exited", zap.Int("code", code))
}

func (h *CmdHandler) Info(msg string) {
	h.l.Info(msg)
}

func (h *CmdHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}
