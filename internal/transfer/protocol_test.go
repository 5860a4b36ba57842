package transfer_test

import (
	"encoding/base64"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wristnode/internal/model"
	"wristnode/internal/store"
	"wristnode/internal/transfer"
)

// fakeChannel records every notified frame and can simulate a transport
// failure after a number of data frames.
type fakeChannel struct {
	mu            sync.Mutex
	frames        [][]byte
	maxPayload    int
	connected     bool
	failDataAfter int // fail the (n+1)th data frame when > 0
	dataSent      int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{maxPayload: 200, connected: true}
}

func (c *fakeChannel) Notify(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return errors.New("not connected")
	}
	if len(payload) > 0 && payload[0] == transfer.MarkerData {
		if c.failDataAfter > 0 && c.dataSent >= c.failDataAfter {
			c.connected = false
			return errors.New("notify rejected")
		}
		c.dataSent++
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *fakeChannel) MaxPayload() int { return c.maxPayload }

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *fakeChannel) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

type finishResult struct {
	sent int
	err  error
}

type fakeHooks struct {
	mu       sync.Mutex
	erases   int
	times    []int64
	finished chan finishResult
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{finished: make(chan finishResult, 4)}
}

func (h *fakeHooks) EraseCompleted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.erases++
}

func (h *fakeHooks) TimeSync(epochSeconds int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.times = append(h.times, epochSeconds)
}

func (h *fakeHooks) TransferFinished(sent int, err error) {
	h.finished <- finishResult{sent: sent, err: err}
}

func waitFinished(t *testing.T, h *fakeHooks) finishResult {
	t.Helper()
	select {
	case res := <-h.finished:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not finish")
		return finishResult{}
	}
}

func requireNoSecondFinish(t *testing.T, h *fakeHooks) {
	t.Helper()
	select {
	case <-h.finished:
		t.Fatal("transfer-complete hook ran twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func testRecord(i int) model.ConsolidatedRecord {
	return model.ConsolidatedRecord{
		AvgHRx10:    uint16(700 + i),
		AvgTempx100: 3651,
		StepCount:   uint16(i),
		Timestamp:   uint32(50000 + i),
	}
}

func newPacedService(t *testing.T, records int, pace time.Duration) (*transfer.Service, *fakeChannel, *fakeHooks) {
	t.Helper()

	blob, err := store.NewFileBlob(filepath.Join(t.TempDir(), "consolidated.dat"))
	require.NoError(t, err)
	st := store.NewRecordStore(blob, zap.NewNop())
	for i := 0; i < records; i++ {
		require.NoError(t, st.Append(testRecord(i)))
	}

	ch := newFakeChannel()
	hooks := newFakeHooks()
	cfg := transfer.DefaultConfig()
	cfg.PaceBase = pace
	cfg.PaceStep = 0

	svc := transfer.NewService(st, ch, hooks, cfg, zap.NewNop())
	svc.HandleConnect()
	return svc, ch, hooks
}

func newTestService(t *testing.T, records int) (*transfer.Service, *fakeChannel, *fakeHooks) {
	t.Helper()
	return newPacedService(t, records, 0)
}

func lastFrame(t *testing.T, ch *fakeChannel) []byte {
	t.Helper()
	frames := ch.snapshot()
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

func TestHandleCommand_List(t *testing.T) {
	svc, ch, _ := newTestService(t, 3)

	svc.HandleCommand([]byte("LIST"))
	require.Equal(t, []byte("AL3"), lastFrame(t, ch))
}

func TestHandleCommand_Unknown(t *testing.T) {
	svc, ch, _ := newTestService(t, 0)

	svc.HandleCommand([]byte("REBOOT"))
	require.Equal(t, []byte("AUNKNOWN"), lastFrame(t, ch))
}

func TestHandleCommand_TimeSync(t *testing.T) {
	svc, ch, hooks := newTestService(t, 0)

	svc.HandleCommand([]byte("TIME:1700000000"))
	require.Equal(t, []byte("ATIME"), lastFrame(t, ch))
	require.Equal(t, []int64{1700000000}, hooks.times)

	svc.HandleCommand([]byte("TIME:abc"))
	require.Equal(t, []byte("ATIMEERR"), lastFrame(t, ch))

	svc.HandleCommand([]byte("TIME:-5"))
	require.Equal(t, []byte("ATIMEERR"), lastFrame(t, ch))

	// Bad TIME values do not corrupt subsequent parsing.
	svc.HandleCommand([]byte("LIST"))
	require.Equal(t, []byte("AL0"), lastFrame(t, ch))
	require.Equal(t, []int64{1700000000}, hooks.times)
}

func TestHandleCommand_Erase(t *testing.T) {
	svc, ch, hooks := newTestService(t, 5)

	svc.HandleCommand([]byte("ERASE"))
	require.Equal(t, []byte("AERASED"), lastFrame(t, ch))
	require.Equal(t, 1, hooks.erases)

	svc.HandleCommand([]byte("LIST"))
	require.Equal(t, []byte("AL0"), lastFrame(t, ch))

	// Idempotent on an already-empty store.
	svc.HandleCommand([]byte("ERASE"))
	require.Equal(t, []byte("AERASED"), lastFrame(t, ch))
}

func TestSend_EmptyStore(t *testing.T) {
	svc, ch, hooks := newTestService(t, 0)

	svc.HandleCommand([]byte("SEND"))
	res := waitFinished(t, hooks)
	require.NoError(t, res.err)
	require.Equal(t, 0, res.sent)

	frames := ch.snapshot()
	require.Len(t, frames, 2)
	require.Equal(t, []byte("C0"), frames[0])
	require.Equal(t, []byte("E"), frames[1])
}

func TestSend_StreamsAllRecords(t *testing.T) {
	const n = 4
	svc, ch, hooks := newTestService(t, n)

	svc.HandleCommand([]byte("SEND"))
	res := waitFinished(t, hooks)
	require.NoError(t, res.err)
	require.Equal(t, n, res.sent)
	requireNoSecondFinish(t, hooks)

	frames := ch.snapshot()
	require.Len(t, frames, n+2)
	require.Equal(t, []byte("C4"), frames[0])
	require.Equal(t, []byte("E"), frames[n+1])

	// Every data frame decodes bit-for-bit back to the stored record.
	for i := 0; i < n; i++ {
		frame := frames[i+1]
		require.Equal(t, transfer.MarkerData, frame[0])
		raw, err := base64.StdEncoding.DecodeString(string(frame[1:]))
		require.NoError(t, err)
		require.Equal(t, testRecord(i).MarshalBinary(), raw)
	}
}

func TestSend_AfterEraseStreamsEmptyLog(t *testing.T) {
	svc, ch, hooks := newTestService(t, 1)

	// The companion's normal workflow: download, wipe, then poll again.
	svc.HandleCommand([]byte("ERASE"))
	require.Equal(t, []byte("AERASED"), lastFrame(t, ch))

	svc.HandleCommand([]byte("SEND"))
	res := waitFinished(t, hooks)
	require.NoError(t, res.err)
	require.Equal(t, 0, res.sent)

	frames := ch.snapshot()
	require.Equal(t, []byte("E"), frames[len(frames)-1])
	require.Equal(t, []byte("C0"), frames[len(frames)-2])
}

// growingBlob appends extra records when the export opens the log, standing in
// for a consolidation pass landing between the count snapshot and the stream.
type growingBlob struct {
	store.Blob
	extra []model.ConsolidatedRecord
}

func (b *growingBlob) Open() (io.ReadCloser, error) {
	for _, rec := range b.extra {
		if err := b.Blob.Append(rec.MarshalBinary()); err != nil {
			return nil, err
		}
	}
	b.extra = nil
	return b.Blob.Open()
}

func TestSend_StopsAtAnnouncedCount(t *testing.T) {
	fileBlob, err := store.NewFileBlob(filepath.Join(t.TempDir(), "consolidated.dat"))
	require.NoError(t, err)
	blob := &growingBlob{
		Blob:  fileBlob,
		extra: []model.ConsolidatedRecord{testRecord(3), testRecord(4)},
	}
	st := store.NewRecordStore(blob, zap.NewNop())
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Append(testRecord(i)))
	}

	ch := newFakeChannel()
	hooks := newFakeHooks()
	cfg := transfer.DefaultConfig()
	cfg.PaceBase = 0
	cfg.PaceStep = 0
	svc := transfer.NewService(st, ch, hooks, cfg, zap.NewNop())
	svc.HandleConnect()

	svc.HandleCommand([]byte("SEND"))
	res := waitFinished(t, hooks)
	require.NoError(t, res.err)
	require.Equal(t, 3, res.sent)

	// Exactly the announced snapshot goes out; the two late records wait for
	// the next SEND.
	frames := ch.snapshot()
	require.Len(t, frames, 5)
	require.Equal(t, []byte("C3"), frames[0])
	require.Equal(t, []byte("E"), frames[4])
	for i := 0; i < 3; i++ {
		frame := frames[i+1]
		require.Equal(t, transfer.MarkerData, frame[0])
		raw, err := base64.StdEncoding.DecodeString(string(frame[1:]))
		require.NoError(t, err)
		require.Equal(t, testRecord(i).MarshalBinary(), raw)
	}
}

func TestSend_TransportFailureAborts(t *testing.T) {
	svc, ch, hooks := newTestService(t, 5)
	ch.mu.Lock()
	ch.failDataAfter = 2
	ch.mu.Unlock()

	svc.HandleCommand([]byte("SEND"))
	res := waitFinished(t, hooks)
	require.Error(t, res.err)
	require.Equal(t, 2, res.sent)
	requireNoSecondFinish(t, hooks)

	// Start plus exactly two data frames, then nothing: no End, and no ack
	// because the channel dropped.
	frames := ch.snapshot()
	require.Len(t, frames, 3)
	require.Equal(t, []byte("C5"), frames[0])
	for _, frame := range frames[1:] {
		require.Equal(t, transfer.MarkerData, frame[0])
	}
}

func TestSend_DisconnectMidStream(t *testing.T) {
	// Pace the export so the disconnect lands while records are still going out.
	svc, ch, hooks := newPacedService(t, 200, 2*time.Millisecond)

	svc.HandleCommand([]byte("SEND"))

	// Let a few frames through, then drop the peer.
	require.Eventually(t, func() bool {
		return len(ch.snapshot()) > 3
	}, 2*time.Second, time.Millisecond)
	ch.setConnected(false)
	svc.HandleDisconnect()

	res := waitFinished(t, hooks)
	require.Error(t, res.err)
	requireNoSecondFinish(t, hooks)

	frames := ch.snapshot()
	require.Less(t, len(frames), 202)
	for _, frame := range frames {
		require.NotEqual(t, transfer.MarkerEnd, frame[0])
	}
}

func TestSend_SecondSendWhileStreamingIsBusy(t *testing.T) {
	svc, ch, hooks := newPacedService(t, 50, 5*time.Millisecond)

	svc.HandleCommand([]byte("SEND"))
	require.Eventually(t, func() bool {
		return len(ch.snapshot()) > 1
	}, 2*time.Second, time.Millisecond)

	// First export is mid-stream, so the second SEND is refused.
	svc.HandleCommand([]byte("SEND"))

	res := waitFinished(t, hooks)
	require.NoError(t, res.err)
	require.Equal(t, 50, res.sent)
	requireNoSecondFinish(t, hooks)

	busy := false
	for _, frame := range ch.snapshot() {
		if string(frame) == "ABUSY" {
			busy = true
		}
	}
	require.True(t, busy)
}

func TestSend_RestartsFromRecordZero(t *testing.T) {
	svc, ch, hooks := newTestService(t, 2)

	svc.HandleCommand([]byte("SEND"))
	waitFinished(t, hooks)
	svc.HandleCommand([]byte("SEND"))
	waitFinished(t, hooks)

	var starts int
	for _, frame := range ch.snapshot() {
		if string(frame) == "C2" {
			starts++
		}
	}
	require.Equal(t, 2, starts)
}
