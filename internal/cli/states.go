package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/plughost/internal/statequery"
	"github.com/roach88/plughost/internal/store"
)

// StatesOptions holds flags for the states command.
type StatesOptions struct {
	*RootOptions
	Database string
	Session  string
	History  uint64
	Where    string
}

// StateRow is one persisted plugin save state.
type StateRow struct {
	UniqueID uint64 `json:"unique_id"`
	Seq      int64  `json:"seq"`
	Plugin   string `json:"plugin"`
	Key      string `json:"key"`
	Active   bool   `json:"active"`
	Bypassed bool   `json:"bypassed"`
	Hash     string `json:"hash"`
	Removed  bool   `json:"removed,omitempty"`
}

// StatesResult is the output of the states command.
type StatesResult struct {
	SessionID  string     `json:"session_id"`
	StartedAt  string     `json:"started_at"`
	SampleRate float64    `json:"sample_rate"`
	States     []StateRow `json:"states"`
}

// NewStatesCommand creates the states command.
func NewStatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "states",
		Short: "Show persisted plugin save states",
		Long: `Show the latest save state of every plugin still present at the end
of a session. Defaults to the most recent session in the database.

With --history the full snapshot history of one plugin is listed instead,
including the removal record.

--where filters snapshots by column with comma-separated field=value or
field!=value terms. Fields: rdn, format, plugin, unique_id, seq,
state_hash, removed. A filtered listing shows the latest snapshot of each
plugin, removal records included.

Example:
  plughost states --db ./plughost.db
  plughost states --db ./plughost.db --session 0190a1b2-... --history 3
  plughost states --db ./plughost.db --where rdn=app.plughost.gain,removed=false`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStates(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (defaults to the latest session)")
	cmd.Flags().Uint64Var(&opts.History, "history", 0, "list every snapshot of this plugin unique id")
	cmd.Flags().StringVar(&opts.Where, "where", "", "filter snapshots (field=value,...)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStates(opts *StatesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	filter, err := statequery.Parse(opts.Where)
	if err != nil {
		return outputStatesError(formatter, ErrCodeFilterInvalid, err.Error())
	}

	// Opening would create an empty database.
	if _, err := os.Stat(opts.Database); err != nil {
		return outputStatesError(formatter, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return outputStatesError(formatter, ErrCodeStore, err.Error())
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var sess store.Session
	if opts.Session != "" {
		sess, err = st.ReadSession(ctx, opts.Session)
	} else {
		sess, err = st.LatestSession(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		return outputStatesError(formatter, ErrCodeNotFound, "no such session")
	}
	if err != nil {
		return outputStatesError(formatter, ErrCodeStore, err.Error())
	}

	var snaps []store.Snapshot
	switch {
	case opts.Where != "":
		q := store.StateQuery{SessionID: sess.ID, Filter: filter, Latest: opts.History == 0}
		if opts.History != 0 {
			q.Filter = statequery.And{Predicates: []statequery.Predicate{
				statequery.Equals{Field: statequery.FieldUniqueID, Value: int64(opts.History)},
				filter,
			}}
		}
		snaps, err = st.QueryStates(ctx, q)
	case opts.History != 0:
		snaps, err = st.History(ctx, sess.ID, opts.History)
	default:
		snaps, err = st.LatestStates(ctx, sess.ID)
	}
	if err != nil {
		return outputStatesError(formatter, ErrCodeStore, err.Error())
	}

	result := StatesResult{
		SessionID:  sess.ID,
		StartedAt:  sess.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		SampleRate: sess.SampleRate,
		States:     make([]StateRow, 0, len(snaps)),
	}
	for _, s := range snaps {
		result.States = append(result.States, StateRow{
			UniqueID: s.UniqueID,
			Seq:      s.Seq,
			Plugin:   s.Plugin,
			Key:      s.State.Key.String(),
			Active:   s.State.Active,
			Bypassed: s.State.Bypassed,
			Hash:     s.Hash,
			Removed:  s.Removed,
		})
	}

	return formatter.Success(result)
}

// WriteText renders the states as a table under the session line.
func (r StatesResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Session %s (started %s)\n", r.SessionID, r.StartedAt)
	if len(r.States) == 0 {
		fmt.Fprintln(w, "No save states.")
		return nil
	}
	rows := make([][]string, 0, len(r.States))
	for _, s := range r.States {
		rows = append(rows, []string{
			strconv.FormatUint(s.UniqueID, 10),
			strconv.FormatInt(s.Seq, 10),
			s.Key,
			strconv.FormatBool(s.Active),
			strconv.FormatBool(s.Removed),
			shortHash(s.Hash),
		})
	}
	return writeTable(w, []string{"UID", "SEQ", "PLUGIN", "ACTIVE", "REMOVED", "HASH"}, rows)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func outputStatesError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
