// Command detective runs "The Bishop Case", a terminal detective game where
// the player interrogates six suspects to find the bishop's murderer.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Phaedra-DevGroup/bishopgame/cmd/detective/game"
	"github.com/Phaedra-DevGroup/bishopgame/internal/casebook"
	"github.com/Phaedra-DevGroup/bishopgame/internal/config"
	"github.com/Phaedra-DevGroup/bishopgame/internal/engine"
	"github.com/Phaedra-DevGroup/bishopgame/internal/llm"
	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
	"github.com/Phaedra-DevGroup/bishopgame/internal/state"
	"github.com/Phaedra-DevGroup/bishopgame/internal/store"
)

var version = "0.3.1"

var (
	cfgPath   string
	debugFlag bool
	modelFlag string

	cfg  *config.Config
	zlog = zap.NewNop()
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "detective",
		Short:   "The Bishop Case — a narrative interrogation game",
		Long:    "A terminal detective game. Bishop Yohanna is dead, six suspects are waiting,\nand every one of them is played by a language model with something to hide.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zlog.Sync()
			logging.CloseAll()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGame()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the config file")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging and prompt dumps")
	root.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override the configured model")

	root.AddCommand(doctorCmd())
	root.AddCommand(askCmd())
	root.AddCommand(introCmd())
	root.AddCommand(transcriptCmd())
	root.AddCommand(resetCmd())
	return root
}

func setup() error {
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debugFlag {
		cfg.Logging.DebugMode = true
	}
	if modelFlag != "" {
		cfg.LLM.Model = modelFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Game.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := logging.Initialize(cfg.Game.DataDir, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if cfg.Logging.DebugMode {
		zlog, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
	}

	zlog.Debug("configured",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))
	logging.Boot("detective %s starting: provider=%s model=%s", version, cfg.LLM.Provider, cfg.LLM.Model)
	return nil
}

// buildEngine wires the LLM client, character database, transcripts and the
// interrogation engine. The transcript store may be nil if unavailable.
func buildEngine() (*engine.Engine, *casebook.Book, *store.TranscriptStore, string, error) {
	client, err := llm.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, nil, "", err
	}

	book, err := casebook.Load(cfg.Game.CasebookPath)
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("failed to load character database: %w", err)
	}

	var transcripts *store.TranscriptStore
	var sessionID string
	if cfg.Game.TranscriptDB != "" {
		transcripts, err = store.NewTranscriptStore(cfg.Game.TranscriptDB)
		if err != nil {
			// Transcripts are a record, not a requirement
			logging.BootError("transcript store unavailable: %v", err)
			transcripts = nil
		} else {
			sessionID, err = transcripts.NewSession()
			if err != nil {
				logging.BootError("session create failed: %v", err)
			}
		}
	}

	eng := engine.New(client, book, engine.Options{
		HistoryLimit:  cfg.Game.HistoryLimit,
		WarmupTimeout: cfg.GetWarmupTimeout(),
		DataDir:       cfg.Game.DataDir,
		Transcripts:   transcripts,
		SessionID:     sessionID,
	})
	return eng, book, transcripts, sessionID, nil
}

func runGame() error {
	eng, book, transcripts, sessionID, err := buildEngine()
	if err != nil {
		return err
	}
	if transcripts != nil {
		defer transcripts.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := book.Watch(ctx); err != nil {
		logging.BootError("casebook watch disabled: %v", err)
	}

	gs := state.New(cfg.Game.SavePath)

	model := game.New(game.Deps{
		Config:      cfg,
		Engine:      eng,
		State:       gs,
		Book:        book,
		Transcripts: transcripts,
		SessionID:   sessionID,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("game crashed: %w", err)
	}
	return nil
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the backend, character database and save file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider: %s\n", cfg.LLM.Provider)
			fmt.Fprintf(out, "model:    %s\n", cfg.LLM.Model)

			client, err := llm.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetHealthTimeout())
			defer cancel()
			if err := client.Health(ctx); err != nil {
				fmt.Fprintf(out, "backend:  UNREACHABLE (%v)\n", err)
			} else {
				fmt.Fprintln(out, "backend:  ok")
			}

			if _, err := casebook.Load(cfg.Game.CasebookPath); err != nil {
				fmt.Fprintf(out, "casebook: BROKEN (%v)\n", err)
			} else {
				fmt.Fprintf(out, "casebook: ok (%d suspects)\n", casebook.NumSuspects)
			}

			if _, err := os.Stat(cfg.Game.SavePath); err == nil {
				gs := state.New(cfg.Game.SavePath)
				if _, err := gs.Load(); err != nil {
					fmt.Fprintf(out, "save:     CORRUPTED (%v)\n", err)
				} else {
					fmt.Fprintf(out, "save:     ok (day %d)\n", gs.CurrentDay)
				}
			} else {
				fmt.Fprintln(out, "save:     none")
			}

			if cfg.Game.TranscriptDB != "" {
				ts, err := store.NewTranscriptStore(cfg.Game.TranscriptDB)
				if err != nil {
					fmt.Fprintf(out, "db:       BROKEN (%v)\n", err)
				} else {
					fmt.Fprintln(out, "db:       ok")
					ts.Close()
				}
			}
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <suspect-id> <question>",
		Short: "Ask one suspect one question, outside the game",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			suspectID, err := strconv.Atoi(args[0])
			if err != nil || suspectID < 1 || suspectID > casebook.NumSuspects {
				return fmt.Errorf("suspect id must be 1-%d", casebook.NumSuspects)
			}
			question := strings.Join(args[1:], " ")

			eng, book, transcripts, _, err := buildEngine()
			if err != nil {
				return err
			}
			if transcripts != nil {
				defer transcripts.Close()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetChatTimeout())
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s):\n", book.Name(suspectID), book.Role(suspectID))
			reply, err := eng.InterrogateStream(ctx, suspectID, 1, question, func(token string) {
				fmt.Fprint(out, token)
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n[%s · %s]\n", reply.Emotion, reply.Image)
			return nil
		},
	}
}

func introCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intro",
		Short: "Generate and print the case opening narration",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, transcripts, _, err := buildEngine()
			if err != nil {
				return err
			}
			if transcripts != nil {
				defer transcripts.Close()
			}

			out := cmd.OutOrStdout()
			_, err = eng.GenerateIntro(cmd.Context(), func(token string) {
				fmt.Fprint(out, token)
			})
			fmt.Fprintln(out)
			return err
		},
	}
}

func transcriptCmd() *cobra.Command {
	var suspectID int
	cmd := &cobra.Command{
		Use:   "transcript [session-id]",
		Short: "List past sessions or dump one session's interrogation log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Game.TranscriptDB == "" {
				return fmt.Errorf("no transcript database configured")
			}
			ts, err := store.NewTranscriptStore(cfg.Game.TranscriptDB)
			if err != nil {
				return err
			}
			defer ts.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sessions, err := ts.Sessions()
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(out, "no sessions recorded")
					return nil
				}
				ids := make([]string, 0, len(sessions))
				for id := range sessions {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					outcome := sessions[id]
					if outcome == "" {
						outcome = "unfinished"
					}
					fmt.Fprintf(out, "%s  %s\n", id, outcome)
				}
				return nil
			}

			sessionID := args[0]
			if sessionID == "latest" {
				sessionID, err = ts.LatestSession()
				if err != nil {
					return err
				}
				if sessionID == "" {
					return fmt.Errorf("no sessions recorded")
				}
			}

			turns, err := ts.Turns(sessionID, suspectID)
			if err != nil {
				return err
			}
			for _, t := range turns {
				speaker := "detective"
				if t.Role == "assistant" {
					speaker = fmt.Sprintf("suspect %d", t.SuspectID)
				}
				fmt.Fprintf(out, "[day %d] %s: %s\n", t.Day, speaker, t.Content)
				if t.Emotion != "" {
					fmt.Fprintf(out, "         (%s)\n", t.Emotion)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&suspectID, "suspect", "s", 0, "filter to one suspect (1-6)")
	return cmd
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the saved game",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("pass --yes to confirm deleting %s", cfg.Game.SavePath)
			}
			gs := state.New(cfg.Game.SavePath)
			if err := gs.Delete(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "save deleted")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
