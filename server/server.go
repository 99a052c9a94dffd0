// Package server exposes sessions to browser clients over a bidirectional
// grpc stream. Every connection owns its session.
package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/spirio-sessions/hmmmusictool/library"
	"github.com/spirio-sessions/hmmmusictool/music"
	"github.com/spirio-sessions/hmmmusictool/session"
)

// KeepaliveOptions are the server side grpc keepalive settings
type KeepaliveOptions struct {
	// ServerInterval is the idle time after which the server pings the client
	ServerInterval time.Duration
	// ServerTimeout is how long the server waits for the ping answer
	ServerTimeout time.Duration
	// ServerMinInterval is the minimum permitted time between client pings
	ServerMinInterval time.Duration
}

// DefaultKeepalive matches the grpc defaults
var DefaultKeepalive = KeepaliveOptions{
	ServerInterval:    2 * time.Hour,
	ServerTimeout:     20 * time.Second,
	ServerMinInterval: time.Minute,
}

func (ka KeepaliveOptions) serverOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    ka.ServerInterval,
			Timeout: ka.ServerTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             ka.ServerMinInterval,
			PermitWithoutStream: true,
		}),
	}
}

// Config holds the server settings
type Config struct {
	// Session is the option set of new connections, reload and changeHMM new
	Session   session.Config
	Keepalive KeepaliveOptions
	// Salt of the connection ids
	Salt string
}

type options struct {
	session []session.Option
	beats   session.BeatSource
	now     func() time.Time
}

// Option configures a server
type Option func(*options)

// WithSessionOptions passes options to every session the server builds
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.session = append(o.session, opts...)
	}
}

// WithBeats sets the source whose beats drive beat based sessions
func WithBeats(src session.BeatSource) Option {
	return func(o *options) {
		o.beats = src
	}
}

// WithClock sets the clock that stamps key presses
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Server runs the performer service
type Server struct {
	cfg      Config
	opts     options
	library  *library.Library
	registry *Registry
	bus      *Bus
	grpc     *grpc.Server
	health   *health.Server

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a server storing models in lib
func New(cfg Config, lib *library.Library, opts ...Option) (*Server, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	registry, err := NewRegistry(cfg.Salt)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		opts:     o,
		library:  lib,
		registry: registry,
		bus:      NewBus(),
		grpc:     grpc.NewServer(cfg.Keepalive.serverOptions()...),
		health:   health.NewServer(),
		stopped:  make(chan struct{}),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s, nil
}

// Registry returns the connected performers
func (s *Server) Registry() *Registry {
	return s.registry
}

// Serve accepts connections on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	logger := log.WithFields(log.Fields{
		"function": "Server.Serve",
	})
	for name := range s.grpc.GetServiceInfo() {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if s.opts.beats != nil {
		go s.pumpBeats()
	}
	logger.Infof("serving on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on the tcp address addr and serves
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(lis)
}

// Stop closes every connection
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if ids := s.registry.IDs(); len(ids) > 0 {
			log.WithFields(log.Fields{
				"function": "Server.Stop",
			}).Infof("closing %d performers: %v", len(ids), ids)
		}
		close(s.stopped)
		s.health.Shutdown()
		s.grpc.Stop()
		s.bus.Stop()
	})
}

func (s *Server) pumpBeats() {
	logger := log.WithFields(log.Fields{
		"function": "Server.pumpBeats",
	})
	for {
		select {
		case <-s.stopped:
			return
		default:
		}
		ok, err := s.opts.beats.Next(session.PollInterval)
		if err != nil {
			select {
			case <-s.stopped:
			default:
				logger.Errorf("beat source failed: %s", err)
			}
			return
		}
		if ok {
			s.bus.Publish("", TopicBeat, nil)
		}
	}
}

func (s *Server) fresh() (*session.Session, error) {
	return session.New(s.cfg.Session, s.opts.session...)
}

// Perform serves one connection
func (s *Server) Perform(stream PerformStream) error {
	logger := log.WithFields(log.Fields{
		"function": "Server.Perform",
	})
	p := &performer{srv: s, stream: stream}
	id, err := s.registry.add(p)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	p.id = id
	logger.Infof("%s connected", id)
	defer func() {
		s.bus.UnRegister(TopicLibrary, p)
		p.install(nil)
		s.registry.remove(id)
		logger.Infof("%s disconnected", id)
	}()

	sess, err := s.fresh()
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	p.install(sess)
	s.bus.Register(TopicLibrary, p)
	if err = p.send(&Reply{Type: SetHmmList, Names: s.library.List()}); err != nil {
		return err
	}

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err = p.handle(msg); err != nil {
			logger.Warnf("%s %s: %s", id, msg.Type, err)
			if err = p.send(&Reply{Type: Msg, Text: err.Error()}); err != nil {
				return err
			}
		}
	}
}

// performer is the state of one connection. Messages are handled on the
// stream goroutine; only sends are shared with the beat loop and the bus.
type performer struct {
	id     string
	srv    *Server
	stream PerformStream

	sendMu   sync.Mutex
	session  *session.Session
	keyboard *session.Keyboard
	beats    *busBeats
}

func (p *performer) send(r *Reply) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.stream.Send(r)
}

func (p *performer) melody(notes []music.Note) error {
	if len(notes) == 0 {
		return nil
	}
	return p.send(&Reply{Type: PredictedMelody, Melody: notes})
}

// HandleBus forwards library changes to the client
func (p *performer) HandleBus(msg *BusMessage) error {
	name, _ := msg.Payload.(string)
	return p.send(&Reply{Type: UpdateHmmList, Name: name})
}

// install replaces the session of the connection. The old session is
// closed, which ends its beat loop.
func (p *performer) install(sess *session.Session) {
	if p.session != nil {
		p.session.Close()
	}
	if p.beats != nil {
		p.srv.bus.UnRegister(TopicBeat, p.beats)
		p.beats = nil
	}
	p.session = sess
	if sess == nil {
		p.keyboard = nil
		return
	}
	p.keyboard = session.NewKeyboard(sess)
	if !sess.BeatBased() {
		return
	}
	p.beats = newBusBeats()
	p.srv.bus.Register(TopicBeat, p.beats)
	go func(src *busBeats) {
		err := sess.RunBeats(src, func(notes []music.Note) {
			if err := p.melody(notes); err != nil {
				log.WithFields(log.Fields{
					"function": "performer.install",
				}).Debugf("%s: %s", p.id, err)
			}
		})
		if err != nil {
			log.WithFields(log.Fields{
				"function": "performer.install",
			}).Warnf("%s beat loop: %s", p.id, err)
		}
	}(p.beats)
}

func (p *performer) handle(msg *Message) error {
	now := p.srv.opts.now()
	switch msg.Type {
	case KeyDown:
		notes, err := p.keyboard.KeyDown(msg.Note, msg.Velocity, now)
		if sendErr := p.melody(notes); sendErr != nil {
			return sendErr
		}
		return err
	case KeyUp:
		melodies, err := p.keyboard.KeyUp(msg.Note, now)
		for _, notes := range melodies {
			if sendErr := p.melody(notes); sendErr != nil {
				return sendErr
			}
		}
		return err
	case Submit:
		cfg, err := msg.Form.Config(p.srv.cfg.Session)
		if err != nil {
			return err
		}
		sess, err := session.New(cfg, p.srv.opts.session...)
		if err != nil {
			return err
		}
		p.install(sess)
	case Update:
		t, err := msg.Form.Tuning(p.session.Config())
		if err != nil {
			return err
		}
		return p.session.Tune(t)
	case Reload:
		sess, err := p.srv.fresh()
		if err != nil {
			return err
		}
		p.install(sess)
	case SaveHMM:
		name, err := p.srv.library.Save(msg.Name, p.session.Record())
		if err != nil {
			return err
		}
		p.srv.bus.Publish(p.id, TopicLibrary, name)
	case ChangeHMM:
		sess, err := p.change(msg.Name)
		if err != nil {
			return err
		}
		p.install(sess)
		return p.send(&Reply{Type: UIConfig, Form: session.UIConfig(sess.Config())})
	default:
		return errors.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

func (p *performer) change(name string) (*session.Session, error) {
	if name == NewModel {
		return p.srv.fresh()
	}
	rec, err := p.srv.library.Load(name)
	if err != nil {
		return nil, err
	}
	return session.Restore(rec, p.srv.opts.session...)
}
