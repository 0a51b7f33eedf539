package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/services/session"
	"github.com/mcoot/outlier/internal/sessionclient"
)

func newCreateCmd() *cobra.Command {
	return sessionCommand(&cobra.Command{
		Use:   "create <display-name>",
		Short: "Create a session and host it",
		Long:  "Create a new session. Any session you are currently in is left first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := player.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			creds, _ := player.Identity()
			out.PrintJoined(s, creds.ParticipantID)
			return nil
		},
	})
}

func newJoinCmd() *cobra.Command {
	return sessionCommand(&cobra.Command{
		Use:   "join <code> <display-name>",
		Short: "Join a session by its join code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := player.Join(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			creds, _ := player.Identity()
			out.PrintJoined(s, creds.ParticipantID)
			return nil
		},
	})
}

func newStatusCmd() *cobra.Command {
	return sessionCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, ok := player.Identity()
			if !ok {
				return sessionclient.ErrNoActiveSession
			}
			s, err := client.Get(cmd.Context(), creds)
			if err != nil {
				return err
			}
			out.PrintSession(s, creds.ParticipantID)
			return nil
		},
	})
}

func newStartCmd() *cobra.Command {
	var (
		categoryName string
		categoryFile string
		words        []string
		prompt       string
		reveal       bool
	)

	cmd := sessionCommand(&cobra.Command{
		Use:   "start",
		Short: "Start a round (host only)",
		Long: `Start a round. The category is chosen from, in order:
  --words with --category   a custom category
  --file                    a JSON file {"name": ..., "words": [...]}
  --generate                a category generated by the server
  --category                a built-in category by name
  (none)                    a random built-in category`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := session.StartOptions{
				CategoryName:   categoryName,
				RevealWordBank: reveal,
			}

			switch {
			case len(words) > 0:
				if categoryName == "" {
					return errors.New("--words needs --category to name it")
				}
				opts.Category = &model.Category{Name: categoryName, Words: words}
			case categoryFile != "":
				c, err := readCategoryFile(categoryFile)
				if err != nil {
					return err
				}
				opts.Category = &c
			case cmd.Flags().Changed("generate"):
				c, err := client.GenerateCategory(cmd.Context(), strings.TrimSpace(prompt))
				if err != nil {
					return err
				}
				opts.Category = &c
			}

			s, err := player.StartRound(cmd.Context(), opts)
			if err != nil {
				return err
			}
			creds, _ := player.Identity()
			out.PrintSession(s, creds.ParticipantID)
			return nil
		},
	})

	cmd.Flags().StringVarP(&categoryName, "category", "c", "", "Built-in category name, or the name for --words")
	cmd.Flags().StringVar(&categoryFile, "file", "", "Read the category from a JSON file")
	cmd.Flags().StringSliceVar(&words, "words", nil, "Comma-separated words for a custom category")
	cmd.Flags().StringVar(&prompt, "generate", "", "Generate a category from a prompt (may be empty)")
	cmd.Flags().Lookup("generate").NoOptDefVal = " "
	cmd.Flags().BoolVar(&reveal, "reveal-word-bank", false, "Show the category's word list to everyone")

	return cmd
}

func readCategoryFile(path string) (model.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Category{}, fmt.Errorf("read category file: %w", err)
	}
	var c model.Category
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Category{}, fmt.Errorf("parse category file: %w", err)
	}
	return c, nil
}

func newRestartCmd() *cobra.Command {
	return sessionCommand(&cobra.Command{
		Use:   "restart",
		Short: "End the round and return to the waiting room (host only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := player.Restart(cmd.Context())
			if err != nil {
				return err
			}
			creds, _ := player.Identity()
			out.PrintSession(s, creds.ParticipantID)
			return nil
		},
	})
}

func newReadyCmd() *cobra.Command {
	var notReady bool

	cmd := sessionCommand(&cobra.Command{
		Use:   "ready",
		Short: "Mark yourself ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := player.SetReady(cmd.Context(), !notReady)
			if err != nil {
				return err
			}
			creds, _ := player.Identity()
			out.PrintSession(s, creds.ParticipantID)
			return nil
		},
	})

	cmd.Flags().BoolVar(&notReady, "not", false, "Clear the ready flag instead")

	return cmd
}

func newKickCmd() *cobra.Command {
	return sessionCommand(&cobra.Command{
		Use:   "kick <participant>",
		Short: "Remove a participant by ID or display name (host only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveParticipant(player.Snapshot(), args[0])
			if err != nil {
				return err
			}
			s, err := player.Kick(cmd.Context(), target)
			if err != nil {
				return err
			}
			creds, _ := player.Identity()
			out.PrintSession(s, creds.ParticipantID)
			return nil
		},
	})
}

// resolveParticipant matches ref against participant IDs first, then
// display names ignoring case
func resolveParticipant(s *model.Session, ref string) (model.ParticipantID, error) {
	if s == nil {
		return "", sessionclient.ErrNoActiveSession
	}
	if p := s.Participant(model.ParticipantID(ref)); p != nil {
		return p.ID, nil
	}

	var matches []model.ParticipantID
	for _, p := range s.Participants {
		if strings.EqualFold(p.DisplayName, strings.TrimSpace(ref)) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", model.ErrParticipantNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%d participants are called %q, use their ID", len(matches), ref)
	}
}

func newLeaveCmd() *cobra.Command {
	return sessionCommand(&cobra.Command{
		Use:   "leave",
		Short: "Leave the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, ok := player.Identity()
			if !ok {
				return sessionclient.ErrNoActiveSession
			}
			if err := player.Leave(cmd.Context()); err != nil {
				return err
			}
			out.PrintMessage(fmt.Sprintf("Left session %s", creds.SessionID))
			return nil
		},
	})
}

func newWatchCmd() *cobra.Command {
	var leaveOnExit bool

	cmd := sessionCommand(&cobra.Command{
		Use:   "watch",
		Short: "Follow the current session live",
		Long: `Print the session every time it changes until you are removed from it
or press Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, ok := player.Identity()
			if !ok {
				return sessionclient.ErrNoActiveSession
			}

			ctx := cmd.Context()
			for {
				select {
				case u := <-updates:
					if u.Removed {
						out.PrintMessage("You are no longer in this session")
						return nil
					}
					out.PrintSession(u.Session, creds.ParticipantID)
				case <-ctx.Done():
					if !leaveOnExit {
						return nil
					}
					// The command context is already cancelled
					return player.Leave(context.WithoutCancel(ctx))
				}
			}
		},
	})
	cmd.Annotations[annotationWatch] = "true"

	cmd.Flags().BoolVar(&leaveOnExit, "leave-on-exit", false, "Leave the session when interrupted")

	return cmd
}

func newQRCmd() *cobra.Command {
	var (
		size int
		path string
	)

	cmd := sessionCommand(&cobra.Command{
		Use:   "qr",
		Short: "Save a QR code of the join link as a PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := player.Snapshot()
			if s == nil {
				return sessionclient.ErrNoActiveSession
			}
			png, err := client.QRCode(cmd.Context(), s.ID, size)
			if err != nil {
				return err
			}
			if path == "" {
				path = fmt.Sprintf("outlier-%s.png", s.JoinCode)
			}
			if err := os.WriteFile(path, png, 0o644); err != nil {
				return fmt.Errorf("write QR code: %w", err)
			}
			out.PrintMessage(fmt.Sprintf("Saved QR code for %s to %s", s.JoinCode, path))
			return nil
		},
	})

	cmd.Flags().IntVar(&size, "size", 0, "Image size in pixels (default: server default)")
	cmd.Flags().StringVar(&path, "out", "", "Output file (default: outlier-<code>.png)")

	return cmd
}
