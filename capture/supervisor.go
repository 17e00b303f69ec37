package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/config"
	"github.com/yeti47/replaybuffer/ffmpeg"
)

// Sweeper deletes expired segments from the buffer directory
type Sweeper interface {
	Sweep() int
}

// Status is a snapshot of the supervisor for status reporting
type Status struct {
	State     State     `json:"state"`
	Encoder   string    `json:"encoder,omitempty"`
	VideoPID  int       `json:"video_pid,omitempty"`
	AudioPID  int       `json:"audio_pid,omitempty"`
	HasAudio  bool      `json:"has_audio"`
	StartedAt time.Time `json:"started_at,omitempty"`
	// Recorded is the encoder-reported position of the video track
	Recorded string `json:"recorded,omitempty"`
}

type requestKind int

const (
	requestStart requestKind = iota
	requestStop
)

type request struct {
	kind  requestKind
	reply chan error
}

// Supervisor owns the capture session. All session state changes happen on the
// goroutine running Run; Start and Stop only enqueue requests.
type Supervisor struct {
	logger           logging.Logger
	settingsProvider config.SettingsProvider[Settings]
	sweeper          Sweeper
	acquirer         AudioAcquirer
	newLauncher      LauncherFactory
	probeEncoders    func(ctx context.Context, ffmpegPath, preference string) ffmpeg.Capabilities
	now              func() time.Time

	sweepInterval time.Duration
	tick          time.Duration

	control chan request
	done    chan struct{}
	state   atomic.Int32

	mu           sync.RWMutex
	status       Status
	videoMonitor *ffmpeg.ProgressMonitor
	listeners    []func(State)
}

// NewSupervisor creates a new capture supervisor. Call Run to start its loop.
func NewSupervisor(logger logging.Logger, settingsProvider config.SettingsProvider[Settings], sweeper Sweeper) *Supervisor {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &Supervisor{
		logger:           logger,
		settingsProvider: settingsProvider,
		sweeper:          sweeper,
		acquirer:         FileAudioAcquirer{},
		newLauncher:      NewProcessGroupLauncher,
		probeEncoders:    ffmpeg.ProbeEncoders,
		now:              time.Now,
		sweepInterval:    DefaultSweepInterval,
		tick:             DefaultControlTick,
		control:          make(chan request),
		done:             make(chan struct{}),
	}
}

// SetAudioAcquirer replaces the default audio source check
func (s *Supervisor) SetAudioAcquirer(acquirer AudioAcquirer) {
	s.acquirer = acquirer
}

// SetSweepInterval changes the retention sweep cadence. Must be called before Run.
func (s *Supervisor) SetSweepInterval(interval time.Duration) {
	if interval > 0 {
		s.sweepInterval = interval
	}
}

// OnStateChange registers a callback invoked after every state transition
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the current state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Status returns a snapshot of the current session
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.State = s.State()
	if s.videoMonitor != nil {
		if progress, ok := s.videoMonitor.Latest(); ok {
			st.Recorded = progress.Time
		}
	}
	return st
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))

	s.mu.RLock()
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// Start requests a new capture session and waits until it is running or failed
func (s *Supervisor) Start(ctx context.Context) error {
	return s.send(ctx, requestStart)
}

// Stop requests the running session to end and waits until both encoders are gone
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.send(ctx, requestStop)
}

func (s *Supervisor) send(ctx context.Context, kind requestKind) error {
	req := request{kind: kind, reply: make(chan error, 1)}

	select {
	case s.control <- req:
	case <-s.done:
		return ErrSupervisorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrSupervisorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the supervisor loop. It handles control requests, checks the encoders
// every tick and sweeps the buffer for as long as ctx is alive, whether or not
// a session is running. A running session is stopped before Run returns.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var sess *Session
	var grace time.Duration
	lastSweep := s.now()

	s.logger.Info("Capture supervisor started", "sweep_interval", s.sweepInterval)

	for {
		select {
		case <-ctx.Done():
			if sess != nil {
				s.logger.Info("Shutting down capture session")
				s.setState(StateStopping)
				s.stopSession(sess, grace)
				s.clearSession()
				s.setState(StateIdle)
			}
			s.logger.Info("Capture supervisor stopped")
			return

		case req := <-s.control:
			switch req.kind {
			case requestStart:
				if sess != nil {
					req.reply <- ErrAlreadyRunning
					continue
				}
				settings := s.settingsProvider.GetSettings()
				grace = settings.stopGrace()

				s.setState(StateStarting)
				started, err := s.startSession(ctx, settings)
				if err != nil {
					s.logger.Error("Failed to start capture session", "error", err)
					s.setState(StateIdle)
					req.reply <- err
					continue
				}
				sess = started
				s.recordSession(sess)
				s.setState(StateRunning)
				s.logger.Info("Capture session running", "buffer_dir", sess.BufferDir, "has_audio", sess.HasAudio())
				req.reply <- nil

			case requestStop:
				if sess == nil {
					req.reply <- ErrNotRunning
					continue
				}
				s.setState(StateStopping)
				s.stopSession(sess, grace)
				sess = nil
				s.clearSession()
				s.setState(StateIdle)
				s.logger.Info("Capture session stopped")
				req.reply <- nil
			}

		case <-ticker.C:
			if sess != nil && !s.checkSession(sess) {
				s.setState(StateStopping)
				s.stopSession(sess, grace)
				sess = nil
				s.clearSession()
				s.setState(StateIdle)
			}

			if now := s.now(); now.Sub(lastSweep) >= s.sweepInterval {
				lastSweep = now
				if s.sweeper != nil {
					s.sweeper.Sweep()
				}
			}
		}
	}
}

// checkSession reports whether the session is still usable. A dead video encoder
// ends the session; a dead audio encoder only degrades it.
func (s *Supervisor) checkSession(sess *Session) bool {
	if sess.Video.Exited() {
		s.logger.Error("Video encoder exited unexpectedly", "pid", sess.Video.PID(), "error", sess.Video.Err())
		return false
	}
	if sess.Audio != nil && !sess.audioLost && sess.Audio.Exited() {
		sess.audioLost = true
		s.logger.Warn("Audio encoder exited unexpectedly, continuing with video only", "pid", sess.Audio.PID(), "error", sess.Audio.Err())
	}
	return true
}

func (s *Supervisor) recordSession(sess *Session) {
	st := Status{
		Encoder:   sess.Capabilities.Encoder.String(),
		VideoPID:  sess.Video.PID(),
		HasAudio:  sess.HasAudio(),
		StartedAt: sess.VideoStart,
	}
	if sess.Audio != nil {
		st.AudioPID = sess.Audio.PID()
	}

	s.mu.Lock()
	s.status = st
	if len(sess.monitors) > 0 {
		s.videoMonitor = sess.monitors[0]
	}
	s.mu.Unlock()
}

func (s *Supervisor) clearSession() {
	s.mu.Lock()
	s.status = Status{}
	s.videoMonitor = nil
	s.mu.Unlock()
}
