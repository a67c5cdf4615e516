package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arturoeanton/ollama-chat/pkg/chatclient"
)

var (
	apiURL   string
	model    string
	provider string
	noStream bool
)

func main() {
	if err := newRootCmd(viper.New()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Every flag can also be set through a
// CHAT_ prefixed variable, e.g. CHAT_API_URL or CHAT_MODEL.
func newRootCmd(v *viper.Viper) *cobra.Command {
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal client for the Ollama chat proxy",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			apiURL = v.GetString("api-url")
			model = v.GetString("model")
			provider = v.GetString("provider")
			noStream = v.GetBool("no-stream")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			in := newTerminalInput()
			defer in.Close()
			return repl(cmd.Context(), in, cmd.OutOrStdout())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("url", "http://localhost:3001", "chat proxy base URL")
	flags.StringP("model", "m", "", "model to use (default: first available)")
	flags.StringP("provider", "p", "", "provider to use (default: server default)")
	flags.Bool("no-stream", false, "wait for the complete answer instead of streaming")
	_ = v.BindPFlag("api-url", flags.Lookup("url"))
	_ = v.BindPFlag("model", flags.Lookup("model"))
	_ = v.BindPFlag("provider", flags.Lookup("provider"))
	_ = v.BindPFlag("no-stream", flags.Lookup("no-stream"))

	askCmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a single prompt and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := newSession()
			return s.turn(cmd.Context(), strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List the models of a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := chatclient.New(apiURL).Models(cmd.Context(), provider)
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.ID, m.Description)
			}
			return nil
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List the providers known to the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			providers, err := chatclient.New(apiURL).Providers(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range providers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tconfigured=%t\n", p.Type, p.Name, p.Configured)
			}
			return nil
		},
	}

	rootCmd.AddCommand(askCmd, modelsCmd, providersCmd)
	return rootCmd
}

// session keeps the conversation history of one terminal run.
type session struct {
	client   *chatclient.Client
	consumer *chatclient.Consumer
	history  []chatclient.Message
}

func newSession() *session {
	client := chatclient.New(apiURL)
	return &session{client: client, consumer: chatclient.NewConsumer(client)}
}

// turn sends prompt with the history so far. Ctrl+C aborts the answer.
func (s *session) turn(ctx context.Context, prompt string, out io.Writer) error {
	now := time.Now()
	s.history = append(s.history, chatclient.Message{
		ID: uuid.NewString(), Role: "user", Content: prompt, Timestamp: &now,
	})
	req := chatclient.Request{Messages: s.history, Model: model, Provider: provider}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	finished := make(chan struct{})
	defer func() {
		signal.Stop(interrupts)
		close(finished)
	}()
	go func() {
		select {
		case <-interrupts:
			s.consumer.Cancel()
			cancel()
		case <-finished:
		}
	}()

	var answer strings.Builder
	if noStream {
		resp, err := s.client.SendMessage(ctx, req)
		if err != nil {
			s.history = s.history[:len(s.history)-1]
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "(cancelled)")
				return nil
			}
			return err
		}
		answer.WriteString(resp.Content)
		fmt.Fprintln(out, resp.Content)
	} else {
		err := s.consumer.Stream(ctx, req, chatclient.Callbacks{
			OnChunk: func(text string) {
				answer.WriteString(text)
				fmt.Fprint(out, text)
			},
			OnComplete: func() { fmt.Fprintln(out) },
		})
		if err != nil {
			fmt.Fprintln(out)
			s.history = s.history[:len(s.history)-1]
			if errors.Is(err, chatclient.ErrStreamAborted) {
				fmt.Fprintln(out, "(cancelled)")
				return nil
			}
			return err
		}
	}

	done := time.Now()
	s.history = append(s.history, chatclient.Message{
		ID: uuid.NewString(), Role: "assistant", Content: answer.String(), Timestamp: &done,
	})
	return nil
}

func repl(ctx context.Context, in lineReader, out io.Writer) error {
	s := newSession()
	fmt.Fprintln(out, "Type a message, /reset to clear the conversation, /quit to leave.")
	for {
		input, err := in.ReadInput("> ")
		if errors.Is(err, errInputAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}

		line := strings.TrimSpace(input)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			s.history = nil
			fmt.Fprintln(out, "(conversation cleared)")
			continue
		}
		if err := s.turn(ctx, line, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
