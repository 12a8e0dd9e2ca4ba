/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Seednode/seance/bridge"
	"github.com/Seednode/seance/broker"
	"github.com/Seednode/seance/channels"
	"github.com/Seednode/seance/errs"
	"github.com/Seednode/seance/guard"
	"github.com/Seednode/seance/matchmaking"
	"github.com/Seednode/seance/spelling"
)

const cleanupTimeout = 5 * time.Second

type clientConfig struct {
	server  string
	name    string
	room    string
	persona string
	spell   bool
	verbose bool

	timing spelling.Timing
}

func newClientCmd() *cobra.Command {
	ccfg := &clientConfig{timing: spelling.DefaultTiming()}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a seance from the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), ccfg, os.Stdin, os.Stdout)
		},
	}

	fs := cmd.Flags()
	normalize(fs)

	fs.StringVarP(&ccfg.server, "server", "s", "http://localhost:8080", "base URL of the seance server (env: SEANCE_SERVER)")
	fs.StringVarP(&ccfg.name, "name", "n", "", "display name, random if unset (env: SEANCE_NAME)")
	fs.StringVarP(&ccfg.room, "room", "r", "", "friend room to join instead of being matched with a stranger (env: SEANCE_ROOM)")
	fs.StringVar(&ccfg.persona, "persona", "", "spirit consulted by /ask, random if unset (env: SEANCE_PERSONA)")
	fs.BoolVar(&ccfg.spell, "spell", true, "spell incoming text out letter by letter (env: SEANCE_SPELL)")
	fs.BoolVarP(&ccfg.verbose, "verbose", "v", false, "display additional output (env: SEANCE_VERBOSE)")

	bindEnv(fs)

	return cmd
}

// terminal serialises output from the socket reader, the speller and the
// input loop.
type terminal struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.w, format, args...)
}

func (t *terminal) debugf(format string, args ...any) {
	if t.verbose {
		t.printf("  (%s)\n", fmt.Sprintf(format, args...))
	}
}

func (t *terminal) hooks() spelling.Hooks {
	return spelling.Hooks{
		Move: func(letter rune, pos spelling.Position) {
			t.debugf("planchette to %c at %.0f,%.0f", letter, pos.X, pos.Y)
		},
		Partial: func(text string) {
			t.printf("\r  ✦ %s", text)
		},
		Clear: func() {
			t.printf("\n")
		},
	}
}

// session is one terminal participant.
type session struct {
	ccfg    *clientConfig
	api     *bridge.API
	self    matchmaking.Identity
	term    *terminal
	speller *spelling.Scheduler
	bridge  *bridge.Bridge
	ended   chan struct{}
	endOnce sync.Once
}

func newAnonID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:maxAnonID]
}

func (s *session) say(sender string, kind channels.Kind, text string) {
	switch kind {
	case channels.KindSystem:
		s.term.printf("* %s\n", text)
	case channels.KindSpirit, channels.KindUser:
		if !s.ccfg.spell {
			s.term.printf("[%s] %s\n", sender, text)
			return
		}

		s.term.printf("[%s is spelling]\n", sender)
		s.speller.Enqueue(text)
	}
}

func (s *session) callbacks() bridge.Callbacks {
	return bridge.Callbacks{
		OnMessage: func(m channels.Message) {
			s.say(m.Sender, m.Kind, m.Text)
		},
		OnInteraction: func(bi channels.BoardInteraction) {
			s.term.printf("* %s pointed at %s\n", bi.Username, bi.Interaction.Value)
		},
		OnUserJoined: func(n channels.Notice) {
			s.term.printf("* %s\n", n.Message)
		},
		OnUserLeft: func(n channels.Notice) {
			s.term.printf("* %s\n", n.Message)
		},
		OnMatch: func(matchID, partner string) {
			s.term.debugf("paired in %s", matchID)
		},
		OnSessionEnded: func(by string) {
			s.speller.Cancel()
			s.term.printf("* %s said goodbye\n", by)
			s.end()
		},
		OnConnection: func(connected bool) {
			s.term.debugf("connected: %t", connected)
		},
		OnMemberCount: func(n int) {
			s.term.debugf("%d present", n)
		},
	}
}

func (s *session) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

func runClient(ctx context.Context, ccfg *clientConfig, in io.Reader, out io.Writer) error {
	api, err := bridge.NewAPI(ccfg.server)
	if err != nil {
		return err
	}

	name := ccfg.name
	if name == "" {
		name = "seeker-" + guard.RandomToken(4)
	}

	s := &session{
		ccfg: ccfg,
		api:  api,
		self: matchmaking.Identity{
			DisplayName: guard.SanitizeIdentifier(name, guard.WithMaxLen(maxDisplayName)),
			AnonID:      newAnonID(),
		},
		term:  &terminal{w: out, verbose: ccfg.verbose},
		ended: make(chan struct{}),
	}

	s.speller = spelling.New(s.term.hooks(), spelling.WithTiming(ccfg.timing))
	defer s.speller.Cancel()

	bc, err := broker.Dial(ctx, api.SocketURL(),
		broker.WithOrigin(api.Origin()),
		broker.WithAuthorizer(api.Authorizer(s.self.DisplayName)),
	)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", ccfg.server, err)
	}
	defer bc.Close()

	s.bridge = bridge.New(bridge.FromClient(bc), api, s.self, s.callbacks())
	defer s.bridge.Close()

	if ccfg.room != "" {
		if err := s.joinRoom(ctx); err != nil {
			return err
		}
	} else {
		if err := s.findPartner(ctx); err != nil {
			return err
		}
	}

	return s.loop(ctx, bc, in)
}

func (s *session) joinRoom(ctx context.Context) error {
	room := guard.Clean(s.ccfg.room, maxRoomIDLen)
	if room == "" {
		return fmt.Errorf("invalid room %q", s.ccfg.room)
	}

	if err := s.bridge.JoinRoom(ctx, room); err != nil {
		return err
	}

	if err := s.api.Join(ctx, room, s.self.DisplayName); err != nil {
		s.term.debugf("join announcement failed: %v", err)
	}

	s.term.printf("* Joined room %s as %s. Type goodbye to leave.\n", room, s.self.DisplayName)

	return nil
}

func (s *session) findPartner(ctx context.Context) error {
	if err := s.bridge.StartAnonymous(ctx); err != nil {
		return err
	}

	resp, err := s.api.RequestMatch(ctx, s.self)
	if err != nil {
		return fmt.Errorf("request match: %w", err)
	}

	if resp.Status == matchmaking.StatusMatched {
		return s.bridge.Paired(ctx, resp.MatchID, resp.Partner)
	}

	s.term.printf("* Waiting for someone to share the board with...\n")

	return nil
}

func (s *session) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if room := guard.Clean(s.ccfg.room, maxRoomIDLen); room != "" {
		_ = s.api.Leave(ctx, room, s.self.DisplayName)
		return
	}

	if !s.bridge.IsPaired() {
		_ = s.api.LeaveMatch(ctx, s.self)
	}
}

func (s *session) loop(ctx context.Context, bc *broker.Client, in io.Reader) error {
	defer s.leave()

	stop := make(chan struct{})
	defer close(stop)

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ended:
			return nil
		case <-bc.Done():
			return errors.New("connection to server lost")
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			if done := s.handle(ctx, strings.TrimSpace(line)); done {
				return nil
			}
		}
	}
}

// handle acts on one line of input and reports whether the session is over.
func (s *session) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
		return false
	case strings.EqualFold(line, "goodbye"):
		s.goodbye(ctx)
		return true
	case strings.EqualFold(line, "/yes"), strings.EqualFold(line, "/no"):
		s.point(ctx, channels.Interaction{Type: channels.InteractionYesNo, Value: strings.ToUpper(line[1:])})
	case strings.HasPrefix(line, "/ask "):
		s.ask(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/ask ")))
	default:
		s.term.printf("[you] %s\n", line)
		s.deliver(s.bridge.SendMessage(ctx, line))
	}

	return false
}

// deliver reports a failed send. The local echo already happened, so the
// session carries on either way.
func (s *session) deliver(err error) {
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNoActiveMatch):
		s.term.debugf("nobody is listening yet")
	default:
		s.term.printf("* (not delivered: %v)\n", err)
	}
}

func (s *session) point(ctx context.Context, it channels.Interaction) {
	s.term.printf("* you pointed at %s\n", it.Value)
	s.deliver(s.bridge.SendInteraction(ctx, it))
}

func (s *session) ask(ctx context.Context, prompt string) {
	if prompt == "" {
		return
	}

	answer, err := s.api.Ask(ctx, prompt, s.ccfg.persona)
	if err != nil {
		s.term.printf("* The spirits are silent (%v)\n", err)
		return
	}

	s.say(answer.Spirit, channels.KindSpirit, answer.Text)
	s.deliver(s.bridge.SendSpiritResponse(ctx, answer.Text, answer.Spirit))
}

func (s *session) goodbye(ctx context.Context) {
	s.speller.Cancel()

	if s.bridge.IsPaired() {
		s.deliver(s.bridge.EndSession(ctx))
	} else {
		s.deliver(s.bridge.SendInteraction(ctx, channels.Interaction{Type: channels.InteractionGoodbye, Value: "GOODBYE"}))
	}

	s.term.printf("* Goodbye.\n")
}
