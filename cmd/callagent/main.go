// Command callagent joins a call session as a headless peer. It sends silent audio
// and is used for kiosks and end-to-end smoke tests against a running deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zatekoja/telecare/internal/adapters/database"
	"github.com/zatekoja/telecare/internal/adapters/sessionstore"
	"github.com/zatekoja/telecare/internal/application/callsession"
	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/application/signaling"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/telecare/internal/infrastructure/clients/redis"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	"github.com/zatekoja/telecare/internal/infrastructure/rtc"
	"github.com/zatekoja/telecare/pkg/config"
)

func main() {
	var sessionID, link, userID, userRole, mode, devices string
	var duration time.Duration
	var complete bool

	flag.StringVar(&sessionID, "session", "", "Call session ID to join")
	flag.StringVar(&link, "link", "", "Call link to join, instead of -session")
	flag.StringVar(&userID, "user", "", "User ID to join as")
	flag.StringVar(&userRole, "role", "patient", "User role: doctor or patient")
	flag.StringVar(&mode, "mode", string(entities.CallModeVideo), "Call mode: voice or video")
	flag.StringVar(&devices, "devices", "audio,video", "Devices the agent pretends to have")
	flag.DurationVar(&duration, "duration", 0, "Hang up after this long once connected (0 waits for a signal)")
	flag.BoolVar(&complete, "complete", false, "Complete the appointment in Postgres when the initiator hangs up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger("telecare-callagent", cfg.Log.Env, cfg.Log.Level)
	logger := observability.GetLogger()

	if link != "" {
		if sessionID, err = entities.ParseCallLink(link); err != nil {
			logger.Fatal().Err(err).Msg("invalid call link")
		}
	}
	who := entities.Identity{UserID: userID, Role: entities.UserRole(userRole)}
	if sessionID == "" || who.UserID == "" || !who.Role.Valid() {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()

	clk := clock.New()
	store := sessionstore.NewRemoteStore(redisClient, cfg.Calls.SessionTTL, clk)

	var completer providers.AppointmentCompleter
	if complete {
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
		}
		defer pgClient.Close()
		completer = services.NewAppointmentService(database.NewAppointmentAdapter(pgClient), nil)
	}

	_, role, err := signaling.ResolveRole(ctx, store, who, sessionID)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot join call")
	}

	factory, err := rtc.NewFactory(cfg.WebRTC)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build WebRTC API")
	}
	available := callsession.MediaConstraints{
		Audio: strings.Contains(devices, "audio"),
		Video: strings.Contains(devices, "video"),
	}

	session, err := callsession.New(callsession.Config{
		SessionID:    sessionID,
		Self:         signaling.Participant{ID: who.UserID, Role: role},
		Mode:         entities.CallMode(mode),
		Store:        store,
		Media:        rtc.NewSyntheticSource(available, clk),
		NewTransport: factory.NewTransport,
		Completer:    completer,
		Clock:        clk,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid call configuration")
	}

	connected := make(chan struct{})
	session.OnStateChange(func(state callsession.State) {
		logger.Info().Str("state", string(state)).Msg("call state")
		if state == callsession.StateConnected {
			close(connected)
		}
	})

	if err := session.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start call")
	}
	logger.Info().Str("session_id", sessionID).Str("role", string(role)).Msg("joining call")

	var hangupAfter <-chan time.Time
	for {
		select {
		case <-connected:
			connected = nil
			if duration > 0 {
				hangupAfter = clk.After(duration)
			}
			continue
		case <-hangupAfter:
		case <-ctx.Done():
		case <-session.Done():
		}
		break
	}

	hangupCtx, hangupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer hangupCancel()
	if err := session.Hangup(hangupCtx); err != nil {
		logger.Warn().Err(err).Msg("hangup failed")
	}

	if failure := session.Failure(); failure != nil {
		logger.Error().Err(failure.Err).Str("message", failure.Message).Msg("call failed")
		os.Exit(1)
	}
	logger.Info().Msg("call ended")
}
