package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wristnode/internal/model"
	"wristnode/internal/store"
)

// Frame markers, shared with the companion app.
const (
	MarkerStart = byte('C')
	MarkerData  = byte('D')
	MarkerEnd   = byte('E')
	MarkerAck   = byte('A')
)

// Inbound command keywords.
const (
	cmdList       = "LIST"
	cmdSend       = "SEND"
	cmdErase      = "ERASE"
	cmdTimePrefix = "TIME:"
)

// Ack payloads (sent behind MarkerAck).
const (
	ackErased  = "ERASED"
	ackTime    = "TIME"
	ackTimeErr = "TIMEERR"
	ackUnknown = "UNKNOWN"
	ackBusy    = "BUSY"
	ackErr     = "ERR"
	ackSendErr = "SENDERR"
)

var errDisconnected = errors.New("peer disconnected")

// Channel is the notify-capable wireless link. Notify pushes one payload of
// at most MaxPayload bytes and returns only after the transport confirms (or
// rejects, or times out) that notification; the bounded wait is the channel
// implementation's responsibility.
type Channel interface {
	Notify(payload []byte) error
	MaxPayload() int
	Connected() bool
}

// Hooks decouple protocol parsing from device-level side effects. The owning
// application implements them and injects them at construction.
type Hooks interface {
	// EraseCompleted runs after the record log was erased, so history-bound
	// state (ring buffer, gait filter) can be reset alongside it.
	EraseCompleted()
	// TimeSync delivers a validated epoch-seconds value.
	TimeSync(epochSeconds int64)
	// TransferFinished runs exactly once per SEND, normal or aborted.
	TransferFinished(sent int, err error)
}

// Config tunes export flow control. The pacing delay grows with cumulative
// records sent in a session to protect constrained receive buffers over long
// transfers.
type Config struct {
	PaceBase  time.Duration // delay after each data frame at session start
	PaceStep  time.Duration // added for every PaceEvery records already sent
	PaceEvery int
	PaceMax   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PaceBase:  10 * time.Millisecond,
		PaceStep:  10 * time.Millisecond,
		PaceEvery: 50,
		PaceMax:   60 * time.Millisecond,
	}
}

// Service is the command/response state machine: Idle until SEND starts an
// export, back to Idle when it finishes or aborts. Connection state is
// orthogonal and can preempt an export at any time.
type Service struct {
	store  *store.RecordStore
	ch     Channel
	hooks  Hooks
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	session *session
}

// session is the ephemeral per-connection state. A send in progress is
// abandoned when the session dies.
type session struct {
	id        string
	streaming bool
	cancel    chan struct{}
}

func NewService(st *store.RecordStore, ch Channel, hooks Hooks, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		ch:     ch,
		hooks:  hooks,
		cfg:    cfg,
		logger: logger,
	}
}

// HandleConnect creates a fresh session for the new peer.
func (s *Service) HandleConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = &session{
		id:     uuid.NewString(),
		cancel: make(chan struct{}),
	}
	s.logger.Info("peer connected", zap.String("session", s.session.id))
}

// HandleDisconnect tears the session down. An export in flight is cancelled;
// its completion bookkeeping still runs on the export goroutine.
func (s *Service) HandleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return
	}
	s.logger.Info("peer disconnected",
		zap.String("session", s.session.id),
		zap.Bool("send_in_flight", s.session.streaming))
	close(s.session.cancel)
	s.session = nil
}

// HandleCommand parses one inbound command write. Malformed commands answer
// UNKNOWN and leave the connection open.
func (s *Service) HandleCommand(payload []byte) {
	cmd := strings.TrimSpace(string(payload))

	switch {
	case cmd == cmdList:
		count, err := s.store.Count()
		if err != nil {
			s.logger.Warn("LIST failed", zap.Error(err))
			s.ack(ackErr)
			return
		}
		s.ack("L" + strconv.Itoa(count))

	case cmd == cmdSend:
		s.startExport()

	case cmd == cmdErase:
		if err := s.store.Erase(); err != nil {
			s.logger.Warn("ERASE failed", zap.Error(err))
			s.ack(ackErr)
			return
		}
		s.hooks.EraseCompleted()
		s.ack(ackErased)

	case strings.HasPrefix(cmd, cmdTimePrefix):
		epoch, err := strconv.ParseInt(cmd[len(cmdTimePrefix):], 10, 64)
		if err != nil || epoch <= 0 {
			s.ack(ackTimeErr)
			return
		}
		s.hooks.TimeSync(epoch)
		s.ack(ackTime)

	default:
		s.logger.Debug("unknown command", zap.String("command", cmd))
		s.ack(ackUnknown)
	}
}

func (s *Service) startExport() {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		s.logger.Warn("SEND with no active session")
		return
	}
	if sess.streaming {
		s.mu.Unlock()
		s.ack(ackBusy)
		return
	}
	sess.streaming = true
	s.mu.Unlock()

	go s.export(sess)
}

// export streams the whole record log as Start, one Data frame per record,
// End. There is no resume: every SEND restarts from record 0. Any transport
// failure aborts the remainder, answers SENDERR when still possible, and the
// completion hook runs regardless so downstream bookkeeping stays uniform.
func (s *Service) export(sess *session) {
	sent := 0
	var err error

	defer func() {
		s.mu.Lock()
		if s.session == sess {
			sess.streaming = false
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("export aborted",
				zap.String("session", sess.id),
				zap.Int("records_sent", sent),
				zap.Error(err))
			if s.ch.Connected() {
				s.ack(ackSendErr)
			}
		} else {
			s.logger.Info("export complete",
				zap.String("session", sess.id),
				zap.Int("records_sent", sent))
		}
		s.hooks.TransferFinished(sent, err)
	}()

	count, cErr := s.store.Count()
	if cErr != nil {
		err = cErr
		return
	}

	s.logger.Info("export starting",
		zap.String("session", sess.id),
		zap.Int("records", count))

	if err = s.notifyFrame(MarkerStart, []byte(strconv.Itoa(count))); err != nil {
		return
	}

	iterErr := s.store.ForEach(func(rec model.ConsolidatedRecord, index int) bool {
		select {
		case <-sess.cancel:
			err = errDisconnected
			return false
		default:
		}
		if !s.ch.Connected() {
			err = errDisconnected
			return false
		}

		if err = s.sendRecord(rec); err != nil {
			return false
		}
		sent++

		// Export exactly the snapshot announced in the Start frame; records
		// appended while streaming wait for the next SEND.
		if sent >= count {
			return false
		}
		return s.pace(sess, sent)
	})
	if err == nil && iterErr != nil {
		err = iterErr
	}
	if err != nil {
		return
	}

	err = s.notifyFrame(MarkerEnd, nil)
}

// sendRecord frames one record: marker byte plus the record's fixed binary
// layout through base64, reversible bit-for-bit by the peer.
func (s *Service) sendRecord(rec model.ConsolidatedRecord) error {
	raw := rec.MarshalBinary()
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(encoded, raw)
	return s.notifyFrame(MarkerData, encoded)
}

func (s *Service) notifyFrame(marker byte, body []byte) error {
	payload := append([]byte{marker}, body...)
	if len(payload) > s.ch.MaxPayload() {
		return fmt.Errorf("frame of %d bytes exceeds channel payload limit %d",
			len(payload), s.ch.MaxPayload())
	}
	if err := s.ch.Notify(payload); err != nil {
		return fmt.Errorf("notify frame %q: %w", marker, err)
	}
	return nil
}

// pace sleeps between data frames, longer the more the session has already
// sent. Returns false when the session was cancelled mid-sleep.
func (s *Service) pace(sess *session, sent int) bool {
	delay := s.cfg.PaceBase
	if s.cfg.PaceEvery > 0 {
		delay += s.cfg.PaceStep * time.Duration(sent/s.cfg.PaceEvery)
	}
	if delay > s.cfg.PaceMax {
		delay = s.cfg.PaceMax
	}
	if delay <= 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-sess.cancel:
		return true // the next loop iteration reports the disconnect
	case <-timer.C:
		return true
	}
}

// ack answers a command with an 'A'-marker frame. Ack delivery is best
// effort; a failed ack never aborts anything.
func (s *Service) ack(text string) {
	if !s.ch.Connected() {
		return
	}
	if err := s.notifyFrame(MarkerAck, []byte(text)); err != nil {
		s.logger.Debug("ack not delivered", zap.String("ack", text), zap.Error(err))
	}
}
