package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/balatrobot/internal/admin"
	"github.com/danmuck/balatrobot/internal/auth"
	"github.com/danmuck/balatrobot/internal/config"
	"github.com/danmuck/balatrobot/internal/game"
	"github.com/danmuck/balatrobot/internal/logging"
	"github.com/danmuck/balatrobot/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func executeWithSignals(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmd.ExecuteContext(ctx)
}

type serveOptions struct {
	// Params starts a run whenever a peer is found in the lobby; nil disables.
	Params *config.RunParams
	Auth   auth.Validator
}

func runServe(ctx context.Context, cfg serviceConfig) error {
	var opts serveOptions
	if cfg.Run.AutoStart {
		p, err := cfg.runParams()
		if err != nil {
			return err
		}
		opts.Params = &p
	}
	if cfg.AdminToken != "" {
		opts.Auth = auth.StaticToken{Token: cfg.AdminToken}
	}

	ln, err := session.Listen(cfg.ListenAddr, cfg.Session)
	if err != nil {
		return err
	}

	var adminLn net.Listener
	if cfg.AdminListenAddr != "" {
		adminLn, err = net.Listen("tcp", cfg.AdminListenAddr)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}
	return serve(ctx, ln, adminLn, opts)
}

// serve runs the accept loop and, when adminLn is set, the admin api until
// ctx ends or one of them fails.
func serve(ctx context.Context, ln *session.Listener, adminLn net.Listener, opts serveOptions) error {
	log := logging.Component("botctl")
	tracker := admin.NewTracker()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acceptLoop(ctx, ln, tracker, opts.Params, log)
	})
	if adminLn != nil {
		srv := admin.New(adminLn.Addr().String(), tracker, opts.Auth)
		g.Go(func() error {
			return srv.Serve(ctx, adminLn)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	err := g.Wait()
	log.Info().Err(err).Msg("serve stopped")
	return err
}

// acceptLoop serves one peer at a time.
func acceptLoop(ctx context.Context, ln *session.Listener, tracker *admin.Tracker, params *config.RunParams, log zerolog.Logger) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, session.ErrConnectionClosed) {
				return nil
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		serveConn(ctx, conn, tracker, params, log)
	}
}

// serveConn syncs with the peer's current screen, optionally starts a run
// from the lobby, then holds the session until it ends.
func serveConn(ctx context.Context, conn *session.Conn, tracker *admin.Tracker, params *config.RunParams, log zerolog.Logger) {
	log = log.With().Str("session_id", conn.ID()).Logger()
	tracker.Attach(conn)
	defer tracker.Detach(conn)
	defer conn.Close()

	state, err := game.Resume(ctx, conn)
	if err != nil {
		log.Error().Err(err).Msg("resume failed")
		return
	}
	tracker.Observe(state)
	log.Info().Str("phase", string(state.Phase())).Msg("peer synced")

	if lobby, ok := state.(*game.Lobby); ok && params != nil {
		blinds, err := lobby.StartRun(ctx, params.Deck, params.Stake, params.Seed)
		if err != nil {
			log.Error().Err(err).Msg("auto start failed")
			if session.IsFatal(err) {
				return
			}
			if state, err = game.Resume(ctx, conn); err != nil {
				log.Error().Err(err).Msg("resume after failed start")
				return
			}
			tracker.Observe(state)
		} else {
			tracker.Observe(blinds)
			log.Info().
				Str("deck", params.Deck.Name()).
				Str("stake", params.Stake.String()).
				Msg("run started")
		}
	}

	select {
	case <-conn.Done():
		log.Info().Err(conn.Err()).Msg("peer session ended")
	case <-ctx.Done():
	}
}

// runProbe dials addr, asks for the current screen and hangs up.
func runProbe(ctx context.Context, addr string, cfg session.Config) (game.Phase, string, error) {
	conn, err := session.Dial(ctx, addr, cfg)
	if err != nil {
		return "", "", err
	}
	defer conn.Close()
	state, err := game.Resume(ctx, conn)
	if err != nil {
		return "", conn.ID(), err
	}
	return state.Phase(), conn.ID(), nil
}
