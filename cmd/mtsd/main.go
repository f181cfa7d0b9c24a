// Command mtsd runs an agent platform and talks to running ones.
//
//	mtsd serve --config mts.toml --echo echo
//	mtsd send --config mts.toml --to echo@platform1 --wait 2s '{"hello": "world"}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/config"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/platform"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "mtsd",
		Short:         "FIPA ACL message transport platform",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "TOML config file (defaults when empty)")
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "dotenv file loaded before MTS_* overrides")

	root.AddCommand(newServeCmd(opts), newSendCmd(opts))
	return root
}

// loadConfig reads the file, the dotenv file and MTS_* variables, in that
// order of precedence from lowest to highest.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadEnv(opts.envFile); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	l := logging.New()
	l.SetLevel(cfg.LogLevel())
	return l.WithComponent("mtsd")
}

func newServeCmd(opts *options) *cobra.Command {
	var echo []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a platform until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			p, err := platform.New(cfg, platform.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := p.Start(); err != nil {
				p.Stop(context.Background())
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for _, name := range echo {
				f, err := p.Agents().Create(name, "echo")
				if err != nil {
					p.Stop(context.Background())
					return err
				}
				logger.Info("agent_created", map[string]interface{}{
					"agent":     f.AID().Name(),
					"addresses": f.AID().Addresses,
				})
				go runEcho(ctx, f, logger)
			}

			<-ctx.Done()
			logger.Info("stopping", nil)

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return p.Stop(stopCtx)
		},
	}
	cmd.Flags().StringSliceVar(&echo, "echo", nil, "create echo agents with these short names")
	return cmd
}

// runEcho answers every REQUEST with an INFORM carrying the same content.
func runEcho(ctx context.Context, f *platform.Facade, logger *logging.Logger) {
	for {
		msg, err := f.Receive(ctx, acl.ByPerformative(acl.Request))
		if err != nil {
			return
		}
		reply, err := acl.NewReply(msg).Performative(acl.Inform).Content(msg.Content).Build()
		if err != nil {
			continue
		}
		if err := f.Send(ctx, reply); err != nil {
			logger.Warn("echo_failed", map[string]interface{}{
				"agent": f.AID().Name(),
				"error": err.Error(),
			})
		}
	}
}

func newSendCmd(opts *options) *cobra.Command {
	var (
		to           string
		performative string
		wait         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [content]",
		Short: "Send one message from a temporary agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receiver, err := acl.ParseAID(to)
			if err != nil {
				return err
			}
			perf, err := acl.ParsePerformative(performative)
			if err != nil {
				return err
			}
			var content any
			if len(args) == 1 {
				content = parseContent(args[0])
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			p, err := platform.New(cfg, platform.WithLogger(newLogger(cfg)))
			if err != nil {
				return err
			}
			defer p.Stop(context.Background())
			if err := p.Start(); err != nil {
				return err
			}

			self, err := p.Agents().Create("cli-" + uuid.NewString()[:8])
			if err != nil {
				return err
			}

			conv := acl.NewConversationID()
			msg, err := acl.NewBuilder().
				Performative(perf).
				Receiver(receiver).
				ConversationID(conv).
				Content(content).
				Build()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := self.Send(ctx, msg); err != nil {
				return err
			}
			if wait <= 0 {
				return nil
			}

			waitCtx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			reply, err := self.Receive(waitCtx, acl.ByConversationID(conv))
			if err != nil {
				return err
			}
			return printMessage(cmd, reply)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "receiver agent name (short@platform)")
	cmd.Flags().StringVarP(&performative, "performative", "p", string(acl.Request), "performative")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for a reply in the same conversation")
	cmd.MarkFlagRequired("to")
	return cmd
}

// parseContent reads s as JSON when it is valid JSON, else as a string.
func parseContent(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func printMessage(cmd *cobra.Command, msg *acl.Message) error {
	content, err := json.MarshalIndent(msg.Content, "", "  ")
	if err != nil {
		return err
	}
	sender := ""
	if msg.Sender != nil {
		sender = msg.Sender.Name()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s from %s\n%s\n", msg.Performative, sender, content)
	return nil
}
