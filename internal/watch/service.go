package watch

import (
	"context"
	"errors"
	"math/rand"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/mpdctl/internal/mpd"
	"github.com/danmuck/mpdctl/internal/player"
	"github.com/danmuck/mpdctl/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidPollInterval = errors.New("watch: invalid poll interval")
	ErrInvalidTarget       = errors.New("watch: invalid daemon address")
)

// ServiceConfig configures the monitoring service.
type ServiceConfig struct {
	Name            string
	Host            string
	Port            int
	PollInterval    time.Duration
	AdminListenAddr string
	CorsOrigins     []string
	Client          mpd.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:            "mpdwatch",
		Host:            "localhost",
		Port:            6600,
		PollInterval:    2 * time.Second,
		AdminListenAddr: "",
		Client:          mpd.DefaultConfig(),
	}
}

// Service keeps one client connected, polls status and serves the admin API.
type Service struct {
	cfg      ServiceConfig
	client   *mpd.Client
	player   *player.Player
	store    *Store
	router   *gin.Engine
	rng      *rand.Rand
	lost     chan struct{}
	appeared time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg.Client.Session = cfg.Client.Session.WithDefaults()
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "mpdwatch"
	}
	client := mpd.New(cfg.Client)
	s := &Service{
		cfg:      cfg,
		client:   client,
		player:   player.New(client),
		store:    NewStore(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		lost:     make(chan struct{}, 1),
		appeared: time.Now(),
	}
	client.OnConnectionLost(s.handleLoss)
	s.router = s.newRouter()
	return s
}

func (s *Service) Client() *mpd.Client {
	return s.client
}

func (s *Service) Store() *Store {
	return s.store
}

// Router returns the admin HTTP handler.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the connect supervisor, the poller and, when configured, the
// admin listener until ctx ends.
func (s *Service) Serve(ctx context.Context) error {
	if s.cfg.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if strings.TrimSpace(s.cfg.Host) == "" || s.cfg.Port <= 0 {
		return ErrInvalidTarget
	}
	defer s.client.Close()

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, s.cfg.AdminListenAddr)
		}()
	}
	go s.superviseConnection(ctx)

	log.Info().Msgf(
		"watch.Service.serve started name=%q target=%s:%d poll=%s admin=%q",
		s.cfg.Name,
		s.cfg.Host,
		s.cfg.Port,
		s.cfg.PollInterval,
		s.cfg.AdminListenAddr,
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watch.Service.serve shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// superviseConnection connects whenever the client is down. The client's own
// single reconnect gets the first backoff delay to land.
func (s *Service) superviseConnection(ctx context.Context) {
	backoff := session.NewBackoff(s.cfg.Client.Session.Backoff, s.rng)
	for ctx.Err() == nil {
		switch s.client.State() {
		case session.StateConnected:
			backoff.Reset()
			select {
			case <-ctx.Done():
				return
			case <-s.lost:
			}
			if err := backoff.Wait(ctx); err != nil {
				return
			}
			continue
		case session.StateConnecting:
			if err := backoff.Wait(ctx); err != nil {
				return
			}
			continue
		}

		v, err := s.client.Connect(ctx, s.cfg.Host, s.cfg.Port)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.store.SetConnection(false, "")
			log.Warn().Msgf(
				"watch.Service.superviseConnection connect failed attempt=%d err=%v",
				backoff.Attempts()+1,
				err,
			)
			if err := backoff.Wait(ctx); err != nil {
				return
			}
			continue
		}
		s.store.SetConnection(true, v.String())
		s.poll(ctx)
	}
}

func (s *Service) handleLoss(err error) {
	s.store.SetConnection(false, "")
	select {
	case s.lost <- struct{}{}:
	default:
	}
	log.Debug().Msgf("watch.Service.handleLoss err=%v", err)
}

func (s *Service) poll(ctx context.Context) {
	if s.client.State() != session.StateConnected {
		return
	}
	if snap := s.store.Snapshot(); !snap.Connected {
		if v, ok := s.client.Version(); ok {
			s.store.SetConnection(true, v.String())
		}
	}
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	defer cancel()
	st, err := s.player.Status(pollCtx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Msgf("watch.Service.poll status failed err=%v", err)
			s.store.Update(nil, err)
		}
		return
	}
	s.store.Update(&st, nil)
}
