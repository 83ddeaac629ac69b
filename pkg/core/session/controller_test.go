package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Alphas-DBS/Nova-Core/pkg/core"
	"github.com/Alphas-DBS/Nova-Core/pkg/core/audio"
	"github.com/Alphas-DBS/Nova-Core/pkg/live"
	"github.com/Alphas-DBS/Nova-Core/pkg/live/protocol"
)

func init() {
	connectBackoff = 10 * time.Millisecond
}

type fakeTransport struct {
	events        chan live.Event
	toolResponses chan []protocol.FunctionResponse

	mu        sync.Mutex
	sentAudio [][]byte
	closeOnce sync.Once
	err       error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:        make(chan live.Event, 64),
		toolResponses: make(chan []protocol.FunctionResponse, 4),
	}
}

func (t *fakeTransport) Events() <-chan live.Event { return t.events }

func (t *fakeTransport) SendAudio(pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentAudio = append(t.sentAudio, append([]byte(nil), pcm...))
	return nil
}

func (t *fakeTransport) SendToolResponse(responses []protocol.FunctionResponse) error {
	t.toolResponses <- responses
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.events) })
	return nil
}

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTransport) emit(e live.Event) { t.events <- e }

// fail records a terminal transport error and ends the event stream, the
// way a dropped connection does.
func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.Close()
}

func (t *fakeTransport) audioCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sentAudio)
}

// captureBlock builds one full capture block of constant amplitude.
func captureBlock(amplitude int16) []byte {
	block := make([]byte, captureBlockSamples*audio.CaptureFormat().BytesPerSample())
	for i := 0; i < captureBlockSamples; i++ {
		binary.LittleEndian.PutUint16(block[i*2:], uint16(amplitude))
	}
	return block
}

type testHarness struct {
	controller *Controller
	transport  *fakeTransport
	micWriter  *io.PipeWriter
	statuses   chan Status
}

func newHarness(t *testing.T, cb Callbacks) *testHarness {
	t.Helper()
	transport := newFakeTransport()
	micReader, micWriter := io.Pipe()

	statuses := make(chan Status, 64)
	userStatus := cb.OnStatus
	cb.OnStatus = func(s Status) {
		statuses <- s
		if userStatus != nil {
			userStatus(s)
		}
	}

	controller := New(Config{
		APIKey: "test-key",
		Dial: func(ctx context.Context, cfg live.Config) (Transport, error) {
			return transport, nil
		},
		OpenMicrophone: func() (io.ReadCloser, error) { return micReader, nil },
		Callbacks:      cb,
	})
	t.Cleanup(func() {
		controller.Disconnect()
		_ = micWriter.Close()
	})
	return &testHarness{
		controller: controller,
		transport:  transport,
		micWriter:  micWriter,
		statuses:   statuses,
	}
}

func (h *testHarness) connect(t *testing.T) {
	t.Helper()
	if err := h.controller.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitStatus(t, StatusConnecting)
	h.waitStatus(t, StatusListening)
}

func (h *testHarness) waitStatus(t *testing.T, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-h.statuses:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v (current %v)", want, h.controller.Status())
		}
	}
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	transport := newFakeTransport()
	micReader, micWriter := io.Pipe()
	defer micWriter.Close()

	attempts := 0
	c := New(Config{
		Dial: func(ctx context.Context, cfg live.Config) (Transport, error) {
			attempts++
			if attempts <= 3 {
				return nil, core.NewUnavailableError("service unavailable", nil)
			}
			return transport, nil
		},
		OpenMicrophone: func() (io.ReadCloser, error) { return micReader, nil },
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after 3 transient failures: %v", err)
	}
	if attempts != 4 {
		t.Errorf("dial attempts = %d, want 4", attempts)
	}
	if got := c.Status(); got != StatusListening {
		t.Errorf("status = %v, want listening", got)
	}
}

func TestConnectExhaustsRetries(t *testing.T) {
	attempts := 0
	micReader, micWriter := io.Pipe()
	defer micWriter.Close()

	c := New(Config{
		Dial: func(ctx context.Context, cfg live.Config) (Transport, error) {
			attempts++
			return nil, core.NewUnavailableError("service unavailable", nil)
		},
		OpenMicrophone: func() (io.ReadCloser, error) { return micReader, nil },
	})

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	if attempts != 4 {
		t.Errorf("dial attempts = %d, want 4 (initial + 3 retries)", attempts)
	}
	if got := c.Status(); got != StatusError {
		t.Errorf("status = %v, want error", got)
	}
}

func TestConnectNonTransientFailsImmediately(t *testing.T) {
	attempts := 0
	micReader, micWriter := io.Pipe()
	defer micWriter.Close()

	c := New(Config{
		Dial: func(ctx context.Context, cfg live.Config) (Transport, error) {
			attempts++
			return nil, core.NewAPIError("bad credentials")
		},
		OpenMicrophone: func() (io.ReadCloser, error) { return micReader, nil },
	})

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if attempts != 1 {
		t.Errorf("dial attempts = %d, want 1", attempts)
	}
	if got := c.Status(); got != StatusError {
		t.Errorf("status = %v, want error", got)
	}
}

func TestDisconnectDuringConnectLeavesIdle(t *testing.T) {
	micReader, micWriter := io.Pipe()
	defer micWriter.Close()

	dialing := make(chan struct{})
	var once sync.Once
	c := New(Config{
		Dial: func(ctx context.Context, cfg live.Config) (Transport, error) {
			once.Do(func() { close(dialing) })
			<-ctx.Done()
			return nil, ctx.Err()
		},
		OpenMicrophone: func() (io.ReadCloser, error) { return micReader, nil },
	})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	<-dialing
	c.Disconnect()

	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect = %v, want context.Canceled", err)
	}
	if got := c.Status(); got != StatusIdle {
		t.Errorf("status after hang-up during connect = %v, want idle", got)
	}
}

func TestConnectWithoutMicrophone(t *testing.T) {
	c := New(Config{
		OpenMicrophone: func() (io.ReadCloser, error) {
			return nil, errors.New("device busy")
		},
	})
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrPermission {
		t.Errorf("err = %v, want permission error", err)
	}
	if got := c.Status(); got != StatusError {
		t.Errorf("status = %v, want error", got)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	c := New(Config{})
	c.Disconnect()
	c.Disconnect()
	if got := c.Status(); got != StatusIdle {
		t.Errorf("status = %v, want idle", got)
	}

	h := newHarness(t, Callbacks{})
	h.connect(t)
	h.controller.Disconnect()
	h.controller.Disconnect()
	if got := h.controller.Status(); got != StatusIdle {
		t.Errorf("status after double disconnect = %v, want idle", got)
	}
}

func TestCaptureStreamsBlocksInOrder(t *testing.T) {
	h := newHarness(t, Callbacks{})
	h.connect(t)

	first := captureBlock(1000)
	second := captureBlock(2000)
	if _, err := h.micWriter.Write(first); err != nil {
		t.Fatalf("write block: %v", err)
	}
	if _, err := h.micWriter.Write(second); err != nil {
		t.Fatalf("write block: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.transport.audioCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("transport received %d blocks, want 2", h.transport.audioCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	if !bytes.Equal(h.transport.sentAudio[0], first) || !bytes.Equal(h.transport.sentAudio[1], second) {
		t.Error("blocks arrived out of capture order")
	}
}

func TestSilenceAfterSpeechBecomesProcessing(t *testing.T) {
	h := newHarness(t, Callbacks{})
	h.connect(t)

	// Caller speaks, then falls silent inside the pause window.
	if _, err := h.micWriter.Write(captureBlock(3000)); err != nil {
		t.Fatalf("write loud block: %v", err)
	}
	time.Sleep(900 * time.Millisecond)
	if _, err := h.micWriter.Write(captureBlock(0)); err != nil {
		t.Fatalf("write silent block: %v", err)
	}

	h.waitStatus(t, StatusProcessing)
}

func TestMicVolumeReportedWhileNotSpeaking(t *testing.T) {
	levels := make(chan float64, 16)
	h := newHarness(t, Callbacks{
		OnVolume: func(level float64) {
			select {
			case levels <- level:
			default:
			}
		},
	})
	h.connect(t)

	if _, err := h.micWriter.Write(captureBlock(3000)); err != nil {
		t.Fatalf("write block: %v", err)
	}

	select {
	case level := <-levels:
		want := float64(3000) / 32768 * volumeGain
		if level < want*0.9 || level > 1 {
			t.Errorf("volume level = %v, want about %v", level, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("volume callback never fired")
	}
}

func TestModelAudioDrivesSpeakingThenListening(t *testing.T) {
	h := newHarness(t, Callbacks{})
	h.connect(t)

	// A short chunk: speaking while scheduled, listening after it drains.
	h.transport.emit(live.AudioEvent{Data: chunkOf(10)})
	h.waitStatus(t, StatusSpeaking)
	h.waitStatus(t, StatusListening)
}

func TestInterruptionClearsPlaybackState(t *testing.T) {
	h := newHarness(t, Callbacks{
		OnTranscript: func(text, role string) {
			if role == RoleAgent {
				t.Errorf("preempted model transcript %q must not flush", text)
			}
		},
	})
	h.connect(t)

	h.transport.emit(live.OutputTranscriptEvent{Text: "as I was say"})
	h.transport.emit(live.AudioEvent{Data: chunkOf(5000)})
	h.waitStatus(t, StatusSpeaking)

	h.transport.emit(live.InterruptedEvent{})
	h.waitStatus(t, StatusListening)

	h.controller.mu.Lock()
	player := h.controller.player
	h.controller.mu.Unlock()
	if player.ActiveCount() != 0 {
		t.Errorf("active segments after interruption = %d, want 0", player.ActiveCount())
	}
	if !player.NextStart().IsZero() {
		t.Errorf("next-start offset after interruption = %v, want zero", player.NextStart())
	}

	// A later turn-complete must not flush the discarded model text.
	h.transport.emit(live.TurnCompleteEvent{})
	time.Sleep(100 * time.Millisecond)
}

func TestTranscriptsFlushOnTurnComplete(t *testing.T) {
	type entry struct{ text, role string }
	flushed := make(chan entry, 4)
	h := newHarness(t, Callbacks{
		OnTranscript: func(text, role string) { flushed <- entry{text, role} },
	})
	h.connect(t)

	h.transport.emit(live.InputTranscriptEvent{Text: "do you have "})
	h.transport.emit(live.InputTranscriptEvent{Text: "a cheaper plan?"})
	h.transport.emit(live.OutputTranscriptEvent{Text: "We do, "})
	h.transport.emit(live.OutputTranscriptEvent{Text: "starting at ten dollars."})
	h.transport.emit(live.TurnCompleteEvent{})

	want := []entry{
		{"do you have a cheaper plan?", RoleUser},
		{"We do, starting at ten dollars.", RoleAgent},
	}
	for _, w := range want {
		select {
		case got := <-flushed:
			if got != w {
				t.Errorf("flushed %+v, want %+v", got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for transcript %+v", w)
		}
	}
}

func TestToolCallInvokesLeadUpdateAndAcks(t *testing.T) {
	updates := make(chan map[string]any, 2)
	h := newHarness(t, Callbacks{
		OnLeadUpdate: func(fields map[string]any) { updates <- fields },
	})
	h.connect(t)

	h.transport.emit(live.ToolCallEvent{Calls: []protocol.FunctionCall{
		{ID: "fc-7", Name: ToolUpdateLead, Args: map[string]any{"phone": "0100000000"}},
	}})

	select {
	case fields := <-updates:
		if fields["phone"] != "0100000000" {
			t.Errorf("lead update fields = %v", fields)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lead update callback never fired")
	}

	select {
	case responses := <-h.transport.toolResponses:
		if len(responses) != 1 || responses[0].ID != "fc-7" || responses[0].Name != ToolUpdateLead {
			t.Errorf("tool responses = %+v", responses)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tool response never sent")
	}

	select {
	case fields := <-updates:
		t.Errorf("lead update fired more than once: %v", fields)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransportFailureLatchesError(t *testing.T) {
	h := newHarness(t, Callbacks{})
	h.connect(t)

	h.transport.fail(core.NewUnavailableError("connection reset", nil))
	h.waitStatus(t, StatusError)

	if got := h.controller.Status(); got != StatusError {
		t.Fatalf("status = %v, want error", got)
	}

	// Explicit disconnect still recovers to idle.
	h.controller.Disconnect()
	if got := h.controller.Status(); got != StatusIdle {
		t.Errorf("status after disconnect = %v, want idle", got)
	}
}

func TestRecordingDeliveredBeforeTeardownCompletes(t *testing.T) {
	recordings := make(chan []byte, 1)
	h := newHarness(t, Callbacks{
		OnRecording: func(wav []byte) { recordings <- wav },
	})
	h.connect(t)

	h.transport.emit(live.AudioEvent{Data: chunkOf(100)})
	h.waitStatus(t, StatusSpeaking)

	h.controller.Disconnect()
	select {
	case wav := <-recordings:
		if !bytes.HasPrefix(wav, []byte("RIFF")) {
			t.Errorf("recording is not a WAV blob: % x", wav[:8])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("recording callback never fired")
	}
	if got := h.controller.Status(); got != StatusIdle {
		t.Errorf("status after disconnect = %v, want idle", got)
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t, Callbacks{})
	h.connect(t)
	h.controller.Disconnect()
	h.waitStatus(t, StatusIdle)

	// The harness transport closed its event channel; a fresh transport
	// stands in for the second dial.
	second := newFakeTransport()
	h.controller.cfg.Dial = func(ctx context.Context, cfg live.Config) (Transport, error) {
		return second, nil
	}
	micReader, micWriter := io.Pipe()
	defer micWriter.Close()
	h.controller.cfg.OpenMicrophone = func() (io.ReadCloser, error) { return micReader, nil }

	if err := h.controller.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	h.waitStatus(t, StatusListening)
	h.controller.Disconnect()
}
