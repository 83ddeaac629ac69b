// Package session implements the realtime call session controller: it
// owns the capture-encode-transmit pipeline, the inbound decode-schedule
// pipeline, the turn-taking state machine, call recording, and teardown.
package session

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Alphas-DBS/Nova-Core/pkg/core"
	"github.com/Alphas-DBS/Nova-Core/pkg/core/audio"
	"github.com/Alphas-DBS/Nova-Core/pkg/live"
	"github.com/Alphas-DBS/Nova-Core/pkg/live/protocol"
)

const (
	// ToolUpdateLead is the function the remote agent calls to patch lead
	// fields mid-conversation.
	ToolUpdateLead = "update_lead"

	// captureBlockSamples is the fixed capture granularity: the pipeline
	// runs once per block of this many samples.
	captureBlockSamples = 4096

	// volumeInterval is the cadence of output volume sampling while the
	// model is speaking.
	volumeInterval = 50 * time.Millisecond

	// volumeGain scales raw RMS into a UI-friendly 0..1 level.
	volumeGain = 5.0

	// connectRetries bounds the dial retry loop for transient "service
	// unavailable" failures.
	connectRetries = 3
)

// connectBackoff is the fixed delay between dial attempts. Variable so
// tests can shorten it.
var connectBackoff = 1500 * time.Millisecond

// Transport is the established remote session as the controller sees it.
// *live.Session satisfies it; tests substitute fakes.
type Transport interface {
	Events() <-chan live.Event
	SendAudio(pcm []byte) error
	SendToolResponse(responses []protocol.FunctionResponse) error
	Close() error
	Err() error
}

// Dialer opens the remote session. Defaults to live.Connect.
type Dialer func(ctx context.Context, cfg live.Config) (Transport, error)

// Callbacks is the controller's event surface. Every field is optional.
// Callbacks are invoked from controller goroutines and must not block.
type Callbacks struct {
	// OnVolume receives display-scaled levels in roughly 0..1: microphone
	// energy while the caller holds the floor, model output energy while
	// the model is speaking.
	OnVolume func(level float64)

	// OnStatus observes every applied status transition.
	OnStatus func(status Status)

	// OnTranscript receives one completed utterance per call, role
	// RoleUser or RoleAgent. Partial fragments are never exposed.
	OnTranscript func(text, role string)

	// OnLeadUpdate receives the unvalidated argument object of each
	// update_lead tool call. The consumer sanitizes the fields.
	OnLeadUpdate func(fields map[string]any)

	// OnRecording receives the assembled WAV blob once, during teardown,
	// before the remaining resources are released.
	OnRecording func(wav []byte)

	// OnDebug receives diagnostic lines, tagged by subsystem.
	OnDebug func(category, message string)
}

// Config configures a Controller.
type Config struct {
	// APIKey, Model, Voice, Instructions and Endpoint are passed through
	// to the remote session dial.
	APIKey       string
	Model        string
	Voice        string
	Instructions string
	Endpoint     string

	// Dial overrides how the remote session is opened (tests).
	Dial Dialer

	// OpenMicrophone acquires the capture source, a 16-bit LE PCM 16kHz
	// mono stream. Called once per Connect; the controller closes it on
	// teardown. Required: Connect fails with a permission error when the
	// source is missing or cannot be acquired.
	OpenMicrophone func() (io.ReadCloser, error)

	// OpenSink acquires the playback device for one call. Optional;
	// model audio is discarded when nil.
	OpenSink func() (Sink, error)

	Callbacks Callbacks
}

// Controller owns one realtime voice session at a time. Instances are
// independent; create one per concurrent call.
type Controller struct {
	cfg     Config
	status  *statusMachine
	tracker voiceTracker
	accum   transcriptAccumulator

	alive       atomic.Bool
	outputLevel atomic.Uint64

	mu            sync.Mutex
	session       Transport
	mic           io.ReadCloser
	sink          Sink
	recorder      *callRecorder
	player        *scheduler
	sendCh        chan []byte
	stopVolume    chan struct{}
	connectCancel context.CancelFunc
	wg            sync.WaitGroup
}

// New returns an idle controller.
func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	c.status = newStatusMachine(cfg.Callbacks.OnStatus)
	return c
}

// Status returns the current session status.
func (c *Controller) Status() Status {
	return c.status.Get()
}

// Connect tears down any previous session, acquires the microphone,
// starts recording, and dials the remote session. Transient dial failures
// are retried up to three times with a fixed 1.5s backoff; any other
// failure propagates immediately. On success the controller is listening
// and streaming captured audio.
func (c *Controller) Connect(ctx context.Context) error {
	c.Disconnect()
	c.status.Set(StatusConnecting)

	mic, err := c.openMicrophone()
	if err != nil {
		c.status.Set(StatusError)
		return err
	}

	var sink Sink
	if c.cfg.OpenSink != nil {
		sink, err = c.cfg.OpenSink()
		if err != nil {
			// Playback device failures are logged, not fatal: the call can
			// proceed without local audio output.
			c.debug("CONNECT", "playback sink unavailable: "+err.Error())
			sink = nil
		}
	}

	recorder := newCallRecorder()

	dialCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.connectCancel = cancel
	c.mu.Unlock()

	transport, err := c.dialWithRetry(dialCtx)
	if err != nil {
		_ = mic.Close()
		if sink != nil {
			_ = sink.Close()
		}
		c.mu.Lock()
		c.connectCancel = nil
		c.mu.Unlock()
		cancel()
		if errors.Is(err, context.Canceled) {
			// A Disconnect mid-dial cancels the context; that is a hang-up,
			// not a failure, and teardown has already set the status.
			return err
		}
		c.status.Set(StatusError)
		return err
	}

	c.mu.Lock()
	c.session = transport
	c.mic = mic
	c.sink = sink
	c.recorder = recorder
	c.player = newScheduler(sink, c.onPlaybackDrained)
	c.sendCh = make(chan []byte, 256)
	c.stopVolume = make(chan struct{})
	sendCh := c.sendCh
	stopVolume := c.stopVolume
	player := c.player
	c.mu.Unlock()

	c.tracker.Reset()
	c.outputLevel.Store(0)
	c.alive.Store(true)
	c.status.Set(StatusListening)

	c.wg.Add(4)
	go c.captureLoop(mic, recorder, sendCh)
	go c.sendLoop(transport, sendCh)
	go c.eventLoop(transport, recorder, player)
	go c.volumeLoop(stopVolume)
	return nil
}

func (c *Controller) openMicrophone() (io.ReadCloser, error) {
	if c.cfg.OpenMicrophone == nil {
		return nil, core.NewPermissionError("no microphone source configured", nil)
	}
	mic, err := c.cfg.OpenMicrophone()
	if err != nil {
		return nil, core.NewPermissionError("microphone unavailable", err)
	}
	return mic, nil
}

func (c *Controller) dialWithRetry(ctx context.Context) (Transport, error) {
	dial := c.cfg.Dial
	if dial == nil {
		dial = func(ctx context.Context, cfg live.Config) (Transport, error) {
			return live.Connect(ctx, cfg)
		}
	}
	liveCfg := live.Config{
		APIKey:       c.cfg.APIKey,
		Model:        c.cfg.Model,
		Voice:        c.cfg.Voice,
		Instructions: c.cfg.Instructions,
		Endpoint:     c.cfg.Endpoint,
		Tools:        []protocol.Tool{leadUpdateTool()},
	}

	var transport Transport
	backoff := retry.WithMaxRetries(connectRetries, retry.NewConstant(connectBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		t, dialErr := dial(ctx, liveCfg)
		if dialErr != nil {
			if core.IsUnavailable(dialErr) {
				c.debug("CONNECT", "transient dial failure, retrying: "+dialErr.Error())
				return retry.RetryableError(dialErr)
			}
			return dialErr
		}
		transport = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transport, nil
}

func leadUpdateTool() protocol.Tool {
	fields := map[string]*protocol.Schema{
		"phone":        {Type: "string", Description: "Phone number the lead provided"},
		"interestedIn": {Type: "string", Description: "Product or service the lead asked about"},
		"notes":        {Type: "string", Description: "Free-form notes about the conversation"},
		"sentiment":    {Type: "string", Description: "Lead sentiment, e.g. positive or hesitant"},
		"status":       {Type: "string", Description: "Pipeline status, e.g. interested or closed"},
	}
	return protocol.Tool{
		FunctionDeclarations: []protocol.FunctionDeclaration{{
			Name:        ToolUpdateLead,
			Description: "Update the current lead record with any details learned during the call. All fields are optional.",
			Parameters:  &protocol.Schema{Type: "object", Properties: fields},
		}},
	}
}

// captureLoop runs the capture pipeline once per fixed-size block: energy
// metering, turn-taking, recording, and ordered hand-off to the sender.
func (c *Controller) captureLoop(mic io.Reader, recorder *callRecorder, sendCh chan<- []byte) {
	defer c.wg.Done()
	defer close(sendCh)

	block := make([]byte, captureBlockSamples*audio.CaptureFormat().BytesPerSample())
	for c.alive.Load() {
		if _, err := io.ReadFull(mic, block); err != nil {
			if c.alive.Load() && err != io.EOF {
				c.debug("CAPTURE", "microphone read: "+err.Error())
			}
			return
		}

		rms := audio.RMSEnergy(block)
		status := c.status.Get()
		if status != StatusSpeaking {
			c.emitVolume(rms * volumeGain)
		}
		if next, ok := c.tracker.Observe(rms, status, time.Now()); ok {
			c.status.Set(next)
		}

		recorder.WriteMic(block)

		buf := append([]byte(nil), block...)
		select {
		case sendCh <- buf:
		default:
			// Transport backlog: drop the block rather than stall capture.
		}
	}
}

// sendLoop transmits captured blocks in capture order, asynchronously to
// the capture loop.
func (c *Controller) sendLoop(session Transport, sendCh <-chan []byte) {
	defer c.wg.Done()
	for pcm := range sendCh {
		if !c.alive.Load() {
			continue
		}
		if err := session.SendAudio(pcm); err != nil {
			c.debug("SEND", "audio send: "+err.Error())
		}
	}
}

// eventLoop processes inbound session events in server delivery order.
func (c *Controller) eventLoop(session Transport, recorder *callRecorder, player *scheduler) {
	defer c.wg.Done()

	for event := range session.Events() {
		if !c.alive.Load() {
			// Mid-teardown: nothing may be decoded or scheduled anymore.
			continue
		}
		switch e := event.(type) {
		case live.AudioEvent:
			recorder.WriteModel(e.Data)
			c.outputLevel.Store(math.Float64bits(audio.RMSEnergy(e.Data)))
			c.status.Set(StatusSpeaking)
			if _, err := player.Schedule(e.Data); err != nil {
				c.debug("PLAYBACK", "schedule chunk: "+err.Error())
			}
		case live.InputTranscriptEvent:
			c.accum.AppendInput(e.Text)
		case live.OutputTranscriptEvent:
			c.accum.AppendOutput(e.Text)
		case live.TurnCompleteEvent:
			c.accum.FlushTurn(c.emitTranscript)
		case live.InterruptedEvent:
			player.Stop()
			c.status.Set(StatusListening)
			c.tracker.Reset()
			c.accum.DiscardOutput()
		case live.ToolCallEvent:
			c.handleToolCalls(session, e.Calls)
		case live.GoAwayEvent:
			c.debug("SESSION", "server go-away, time left: "+e.TimeLeft)
		}
	}

	if err := session.Err(); err != nil && c.alive.Load() {
		c.debug("SESSION", "transport failure: "+err.Error())
		c.status.Set(StatusError)
		go c.teardown(StatusError)
	}
}

// volumeLoop samples model output energy at a fixed cadence, only while
// the model holds the floor.
func (c *Controller) volumeLoop(stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(volumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.status.Get() != StatusSpeaking {
				continue
			}
			c.emitVolume(math.Float64frombits(c.outputLevel.Load()) * volumeGain)
		}
	}
}

func (c *Controller) handleToolCalls(session Transport, calls []protocol.FunctionCall) {
	responses := make([]protocol.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		if call.Name != ToolUpdateLead {
			c.debug("TOOL", "ignoring unknown tool call: "+call.Name)
			continue
		}
		if cb := c.cfg.Callbacks.OnLeadUpdate; cb != nil {
			cb(call.Args)
		}
		responses = append(responses, protocol.NewToolSuccess(call))
	}
	if len(responses) == 0 {
		return
	}
	go func() {
		if err := session.SendToolResponse(responses); err != nil {
			c.debug("TOOL", "tool response send: "+err.Error())
		}
	}()
}

func (c *Controller) onPlaybackDrained() {
	if !c.alive.Load() {
		return
	}
	if c.status.Get() == StatusSpeaking {
		c.status.Set(StatusListening)
		c.tracker.Reset()
	}
}

// Disconnect tears the session down in dependency order and returns the
// controller to idle. Idempotent; safe with no active session and safe to
// call at any point in Connect's lifetime, including mid-retry-backoff.
func (c *Controller) Disconnect() {
	c.teardown(StatusIdle)
}

func (c *Controller) teardown(final Status) {
	c.mu.Lock()
	session := c.session
	mic := c.mic
	sink := c.sink
	recorder := c.recorder
	player := c.player
	stopVolume := c.stopVolume
	cancel := c.connectCancel
	c.session, c.mic, c.sink, c.recorder, c.player = nil, nil, nil, nil, nil
	c.stopVolume, c.connectCancel = nil, nil
	c.mu.Unlock()

	c.alive.Store(false)
	if cancel != nil {
		cancel()
	}
	if session == nil && mic == nil && recorder == nil {
		// Never connected, or another teardown already ran.
		c.setFinalStatus(final)
		return
	}

	// Close the remote session first so no new audio arrives mid-teardown.
	if session != nil {
		_ = session.Close()
	}

	// Drain the recorder before anything else closes, otherwise buffered
	// audio is lost.
	if recorder != nil {
		if wav, ok := recorder.Finalize(); ok {
			if cb := c.cfg.Callbacks.OnRecording; cb != nil {
				cb(wav)
			}
		}
	}

	if stopVolume != nil {
		close(stopVolume)
	}

	// Release the capture hardware; the capture loop unblocks and the
	// send pipeline drains behind it.
	if mic != nil {
		if err := mic.Close(); err != nil {
			c.debug("TEARDOWN", "microphone close: "+err.Error())
		}
	}
	c.wg.Wait()

	// Close the playback device, tolerating failure so disconnect always
	// makes forward progress.
	if sink != nil {
		if err := sink.Close(); err != nil {
			c.debug("TEARDOWN", "playback sink close: "+err.Error())
		}
	}

	// Stop the playback timeline for good; a chunk still in flight in the
	// event loop must not arm a timer on a dead session.
	if player != nil {
		player.Close()
	}

	c.setFinalStatus(final)
}

// setFinalStatus applies the teardown's resting status. The error path
// latched StatusError before the teardown started, so it never sets status
// here; a concurrent Disconnect's idle must not be overwritten.
func (c *Controller) setFinalStatus(final Status) {
	if final == StatusError {
		return
	}
	c.status.Set(final)
}

func (c *Controller) emitVolume(level float64) {
	cb := c.cfg.Callbacks.OnVolume
	if cb == nil {
		return
	}
	if level > 1 {
		level = 1
	}
	cb(level)
}

func (c *Controller) emitTranscript(text, role string) {
	if cb := c.cfg.Callbacks.OnTranscript; cb != nil {
		cb(text, role)
	}
}

func (c *Controller) debug(category, message string) {
	if cb := c.cfg.Callbacks.OnDebug; cb != nil {
		cb(category, message)
	}
}
