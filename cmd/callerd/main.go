// callerd is the headless call client: it connects to the signaling relay
// as one portal user, answers or places peer-to-peer calls, and drives the
// pion media path. The desktop shell embeds the same packages; this binary
// exists for development and manual end-to-end testing.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/adapters/portal"
	"github.com/dchudnov/campuscall/internal/adapters/rtc"
	"github.com/dchudnov/campuscall/internal/adapters/wsclient"
	"github.com/dchudnov/campuscall/internal/call"
	"github.com/dchudnov/campuscall/internal/config"
	"github.com/dchudnov/campuscall/internal/domain"
)

func main() {
	user := flag.String("user", "", "portal user id to connect as (defaults to identity lookup)")
	token := flag.String("token", "", "portal bearer token")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	services := portal.NewClient(cfg.MessagingURL, *token)

	self := domain.UserID(*user)
	if self == "" {
		id, err := services.CurrentUserID(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("identity lookup failed; pass -user explicitly")
		}
		self = id
	}

	channel, err := wsclient.Connect(cfg.RelayURL, self)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot reach signaling relay")
	}
	defer channel.Close()

	media := rtc.NewFactory(cfg.STUNServers)
	recorder := call.NewRecorder(services, 0)
	engine := call.NewEngine(self, channel, media, recorder, cfg.RingTimeout)

	engine.OnIncoming(func(inv call.Invite) {
		fmt.Printf("incoming %s call from %s — type 'accept' or 'decline'\n", inv.Kind, inv.From)
	})
	engine.OnTransition(func(s call.Snapshot) {
		fmt.Printf("call %s: %s\n", s.RoomID, s.State)
	})

	go engine.Run(ctx)

	fmt.Printf("connected as %s\ncommands: call <user> [video] | accept | decline | mute | video | speaker | end | quit\n", self)
	go readCommands(ctx, cancel, engine)

	<-ctx.Done()
	engine.Close()
	log.Info().Msg("callerd exited")
}

func readCommands(ctx context.Context, cancel context.CancelFunc, engine *call.Engine) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <user> [video]")
				continue
			}
			kind := domain.CallVoice
			if len(fields) > 2 && fields[2] == "video" {
				kind = domain.CallVideo
			}
			if err := engine.StartCall(ctx, domain.UserID(fields[1]), kind); err != nil {
				fmt.Println("call failed:", err)
			}
		case "accept":
			if err := engine.Accept(ctx); err != nil {
				fmt.Println(err)
			}
		case "decline":
			if err := engine.Decline(); err != nil {
				fmt.Println(err)
			}
		case "mute":
			fmt.Println("muted:", engine.ToggleMute())
		case "video":
			fmt.Println("video enabled:", engine.ToggleVideo())
		case "speaker":
			fmt.Println("speaker on:", engine.ToggleSpeaker())
		case "end":
			engine.EndCall()
		case "quit":
			cancel()
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
