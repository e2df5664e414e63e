package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/pkg/client"
	"github.com/spf13/cobra"
)

// ── start ────────────────────────────────────────────────────────────────────

var (
	startUser    string
	startProject string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Open a new capture session and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		sess, err := c.StartSession(cmd.Context(), startUser, startProject)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		if jsonOutput() {
			return printJSON(map[string]string{"session_id": sess.ID})
		}
		fmt.Println(sess.ID)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{startCmd, replayCmd} {
		cmd.Flags().StringVar(&startUser, "user", "", "owner user id recorded on the session")
		cmd.Flags().StringVar(&startProject, "project", "", "project name recorded on the session")
	}
}

// ── replay ───────────────────────────────────────────────────────────────────

var (
	replaySession string
	replayPrev    string
	replayFinish  string
)

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Append a recorded JSONL event file to a session",
	Long: `replay reads one event per line and appends them in order, computing each
hash locally. Lines may be bare event objects or envelopes of the form
{"timestamp": "...", "event": {...}}; a missing timestamp is filled with the
current time.

Without --session a new session is opened. Pass --finish to submit the
rendered artifact once every event is accepted:

  renderlog replay capture.jsonl --user alice --finish out.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replaySession, "session", "", "existing session id to continue")
	replayCmd.Flags().StringVar(&replayPrev, "prev", ledger.SentinelHash, "current tip hash of --session")
	replayCmd.Flags().StringVar(&replayFinish, "finish", "", "artifact file to submit after the last event")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	events, err := readEvents(f)
	f.Close()
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var sess *client.Session
	if replaySession != "" {
		sess = c.Resume(replaySession, replayPrev)
	} else if sess, err = c.StartSession(ctx, startUser, startProject); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	for _, ev := range events {
		if _, err := sess.Append(ctx, ev.Timestamp, []byte(ev.Event)); err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Field("expectedPrev") != "" {
				return fmt.Errorf("line %d: %w (server tip %s)", ev.Line, err, apiErr.Field("expectedPrev"))
			}
			return fmt.Errorf("line %d: %w", ev.Line, err)
		}
	}
	fmt.Fprintf(os.Stderr, "appended %d events to %s, tip %s\n", len(events), sess.ID, sess.Prev())

	if replayFinish == "" {
		if jsonOutput() {
			return printJSON(map[string]any{"session_id": sess.ID, "events": len(events), "tip": sess.Prev()})
		}
		fmt.Println(sess.ID)
		return nil
	}
	return submitFile(ctx, sess, replayFinish, "")
}

// ── finish ───────────────────────────────────────────────────────────────────

var (
	finishHash        string
	finishContentType string
)

var finishCmd = &cobra.Command{
	Use:   "finish <session-id> [artifact]",
	Short: "Submit a rendered artifact (or only its hash) for verification",
	Long: `finish closes a session and prints the verdict.

With an artifact file the bytes are uploaded and the server hashes them:

  renderlog finish 3f2a... out.mp4

With only --hash nothing is uploaded and the declared digest is verified
against the log:

  renderlog finish 3f2a... --hash 9b74...`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		sess := c.Resume(args[0], "")
		if len(args) == 2 {
			return submitFile(cmd.Context(), sess, args[1], finishHash)
		}
		if finishHash == "" {
			return fmt.Errorf("an artifact file or --hash is required")
		}
		res, err := sess.FinishMultipart(cmd.Context(), finishHash, "", nil)
		if err != nil {
			return err
		}
		return printVerdict(res)
	},
}

func init() {
	finishCmd.Flags().StringVar(&finishHash, "hash", "", "declared SHA-256 hex digest of the artifact")
	finishCmd.Flags().StringVar(&finishContentType, "content-type", "", "artifact content type (sniffed from the bytes when empty)")
}

func submitFile(ctx context.Context, sess *client.Session, path, declared string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var res *client.FinishResult
	if declared != "" {
		res, err = sess.FinishMultipart(ctx, declared, filepath.Base(path), data)
	} else {
		contentType := finishContentType
		if contentType == "" {
			contentType = mimetype.Detect(data).String()
		}
		res, err = sess.Finish(ctx, data, contentType)
	}
	if err != nil {
		return err
	}
	return printVerdict(res)
}

func printVerdict(res *client.FinishResult) error {
	if jsonOutput() {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		fmt.Printf("Status: %s\n", res.Status)
		fmt.Printf("Reason: %s\n", res.Reason)
		if res.File != "" {
			fmt.Printf("File:   %s\n", res.File)
		}
	}
	if !res.Approved {
		return fmt.Errorf("artifact %s: %s", res.Status, res.Reason)
	}
	return nil
}

// ── check ────────────────────────────────────────────────────────────────────

var checkCmd = &cobra.Command{
	Use:   "check <hash|file>",
	Short: "Report whether an artifact is registered",
	Long: `check looks an artifact up in the approved registry. An argument naming an
existing file is uploaded and hashed server-side; anything else is treated
as a hex digest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		var res *client.LookupResult
		if data, readErr := os.ReadFile(args[0]); readErr == nil {
			res, err = c.CheckFile(cmd.Context(), args[0], data)
		} else {
			res, err = c.Check(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(res)
		}
		fmt.Printf("Hash:       %s\n", res.Hash)
		fmt.Printf("Registered: %t\n", res.Registered)
		if res.Record != nil {
			fmt.Printf("Session:    %s\n", res.Record.SessionID)
			fmt.Printf("Approved:   %s\n", res.Record.ApprovedAt.Format("2006-01-02 15:04:05 MST"))
			if res.Record.FileURL != "" {
				fmt.Printf("File:       %s\n", res.Record.FileURL)
			}
		}
		return nil
	},
}

// ── inspect ──────────────────────────────────────────────────────────────────

var inspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show a session's status, events and output, and replay its chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		detail, err := c.Inspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(detail)
		}

		fmt.Printf("Session: %s\n", detail.Session.ID)
		fmt.Printf("Status:  %s\n", detail.Session.Status)
		if detail.Output != nil {
			fmt.Printf("Output:  %s (%s, custody %s)\n", detail.Output.FinalHash, detail.Output.Status, detail.Output.Custody)
		}
		printEvents(detail.Events)
		return reportReplay(detail.Events)
	},
}

func printEvents(events []client.Event) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTYPE\tTIMESTAMP\tHASH")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Seq, e.Kind, e.Timestamp, e.Hash)
	}
	w.Flush()
}

// reportReplay re-verifies the chain locally.
func reportReplay(events []client.Event) error {
	if len(events) == 0 {
		fmt.Println("Chain:   empty")
		return nil
	}
	entries := make([]*ledger.Entry, len(events))
	for i, e := range events {
		entries[i] = e.Entry()
	}
	if err := ledger.Replay(entries); err != nil {
		fmt.Printf("Chain:   BROKEN (%v)\n", err)
		return err
	}
	fmt.Printf("Chain:   intact (%d entries)\n", len(events))
	return nil
}
