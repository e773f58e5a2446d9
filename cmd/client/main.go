// Command client is a terminal client for the comment gateway.
//
// Each line read from stdin is sent as a comment. "/stamp <id> <name>" sends
// a reaction stamp and "/ping" pings the gateway. Received comments are
// printed in their style colour.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/logging"
	"github.com/comet-live/backend/pkg/client"
)

// Config is read from COMET_* environment variables.
type Config struct {
	URL      string `envconfig:"COMET_URL" default:"ws://localhost:8080/ws"`
	UserID   string `envconfig:"COMET_USER"`
	Colours  bool   `envconfig:"COMET_COLOURS" default:"true"`
	LogLevel string `envconfig:"COMET_LOG_LEVEL" default:"warn"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "client terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if !cfg.Colours {
		color.Disable()
	}

	log, err := logging.New(cfg.LogLevel, "console", os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := client.NewSession(client.Options{URL: cfg.URL, Logger: &log})
	session.On(client.MessageTypeNewComment, printComment)
	session.On(client.MessageTypeNewStamp, printStamp)
	session.On(client.MessageTypePong, func(*client.Envelope) {
		fmt.Println(color.New(color.FgGray).Render("pong"))
	})
	session.On(client.MessageTypeError, printError)

	if err := session.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("initial connect failed, retrying in background")
	}
	defer session.Disconnect()

	go watchErrors(ctx, session, log)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !send(ctx, session, cfg.UserID, line) {
				fmt.Fprintln(os.Stderr, color.New(color.FgRed).Render("not sent: not connected"))
			}
		}
	}
}

func send(ctx context.Context, s *client.Session, userID, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return true
	case line == "/ping":
		return s.SendPing(ctx)
	case strings.HasPrefix(line, "/stamp "):
		fields := strings.Fields(strings.TrimPrefix(line, "/stamp "))
		if len(fields) == 0 {
			return true
		}
		name := fields[0]
		if len(fields) > 1 {
			name = strings.Join(fields[1:], " ")
		}
		return s.SendStamp(ctx, client.StampMessage{
			UserID: userID,
			Stamp:  client.Stamp{ID: fields[0], Name: name, Category: "reaction"},
		})
	default:
		return s.SendComment(ctx, client.Comment{Content: line, UserID: userID})
	}
}

func watchErrors(ctx context.Context, s *client.Session, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.Errors():
			if errors.Is(err, client.ErrReconnectExhausted) {
				fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.OpBold).Render("gave up reconnecting; retrying once more"))
				go s.Reconnect(ctx)
				continue
			}
			log.Debug().Err(err).Msg("transport error")
		}
	}
}

func printComment(env *client.Envelope) {
	var payload client.NewCommentPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	c := payload.Comment
	who := c.UserID
	if who == "" {
		who = "anon"
	}
	fmt.Printf("%s %s\n", color.New(color.FgGray).Render(who+":"), color.HEX(c.Style.Color).Sprint(c.Content))
}

func printStamp(env *client.Envelope) {
	var payload client.NewStampPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	fmt.Println(color.New(color.FgYellow).Render("[" + payload.Stamp.Stamp.Name + "]"))
}

func printError(env *client.Envelope) {
	var payload client.ErrorPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	fmt.Fprintln(os.Stderr, color.New(color.FgRed).Render(payload.Code+": "+payload.Message))
}
