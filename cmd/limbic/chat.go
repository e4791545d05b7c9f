package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		instant bool
		panel   bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to Limbic in the terminal",
		Long: `Start an interactive conversation. Replies are typed out with the
pacing produced by the articulation stage.

Commands: /state shows the current mood, /quit exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if instant {
				cfg.Articulation.Pacing = "instant"
			}
			logger, err := newLogger("warn", true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return chatLoop(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout(), panel)
		},
	}
	cmd.Flags().BoolVar(&instant, "instant", false, "print replies without typing delays")
	cmd.Flags().BoolVar(&panel, "panel", true, "show the mood panel after each reply")
	return cmd
}

func chatLoop(ctx context.Context, a *app, in io.Reader, out io.Writer, panel bool) error {
	speaker := a.personas.Current().Name
	term := articulation.NewTerminal(out, speaker)
	pacer := a.cfg.Pacer()

	fmt.Fprintf(out, "和 %s 聊天吧。输入 /state 查看情绪，/quit 退出。\n", speaker)
	fmt.Fprintln(out, renderPanel(a.engine.State()))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit", "/exit", "exit", "quit":
			fmt.Fprintln(out, "再见！")
			return nil
		case "/state":
			fmt.Fprintln(out, renderPanel(a.engine.State()))
			continue
		}

		s, err := a.pipeline.Turn(ctx, input, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := articulation.Render(ctx, articulation.NewSequence(s.Actions), term, pacer); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if len(s.Warnings) > 0 {
			fmt.Fprintln(out, renderWarnings(s.Warnings))
		}
		if panel {
			fmt.Fprintln(out, renderPanel(a.engine.State()))
		}
	}
}
