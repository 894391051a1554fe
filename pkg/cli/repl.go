package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/reasoning"
	"github.com/lexlapax/questweaver/pkg/story"
)

// REPL commands
const (
	cmdHelp    = "!help"
	cmdQuit    = "!quit"
	cmdSummary = "!summary"
	cmdRecall  = "!recall"
	cmdRecent  = "!recent"
	cmdForget  = "!forget"
)

var replCommands = []string{cmdHelp, cmdQuit, cmdSummary, cmdRecall, cmdRecent, cmdForget}

const helpText = `
QuestWeaver - Command Reference:
-----------------------------------------
!help             - Show this help message
!summary          - Summarize the story so far
!recall <text>    - Search this story's memories by meaning
!recent           - Show the newest memories of this story
!forget           - Delete this story's memories and quit
!quit             - Exit (the story is kept and can be resumed)

Anything else is your next action. A number picks one of the offered options.`

// historyFile stores the REPL's line history between runs
const historyFile = ".questweaver_history"

// keptMessages bounds the transcript held in memory; the generator replays
// only its tail.
const keptMessages = 20

// lineReader is the part of *liner.State the REPL uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// memoryReader is the part of *memory.Store the REPL uses.
type memoryReader interface {
	RetrieveRelevant(ctx context.Context, q memory.Query) ([]memory.Record, error)
	RetrieveRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]memory.Record, error)
}

type repl struct {
	story   *story.Generator
	memory  memoryReader
	session story.Session
	out     io.Writer

	history []reasoning.Message
}

func newREPL(gen *story.Generator, mem memoryReader, sess story.Session, out io.Writer) *repl {
	return &repl{story: gen, memory: mem, session: sess, out: out}
}

// remember appends one transcript message, dropping the oldest past
// keptMessages.
func (r *repl) remember(role, content string) {
	r.history = append(r.history, reasoning.Message{Role: role, Content: content})
	if len(r.history) > keptMessages {
		r.history = r.history[len(r.history)-keptMessages:]
	}
}

// run reads lines until the player quits or input ends.
func (r *repl) run(ctx context.Context, in lineReader) error {
	prompt := fmt.Sprintf("%s@%s> ", r.session.OwnerID, r.session.ConversationID)
	for {
		input, err := in.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nFarewell, adventurer.")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		in.AppendHistory(input)

		if !r.handle(ctx, input) {
			return nil
		}
	}
}

// handle processes one line and reports whether the loop should go on.
// Failures are printed and logged; they never end the session.
func (r *repl) handle(ctx context.Context, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case cmdHelp:
		fmt.Fprintln(r.out, helpText)

	case cmdQuit:
		fmt.Fprintln(r.out, "Farewell, adventurer.")
		return false

	case cmdSummary:
		summary, err := r.story.Summary(ctx, r.session)
		if err != nil {
			r.fail(ctx, "summarize", err)
			break
		}
		fmt.Fprintln(r.out, summary)

	case cmdRecall:
		if arg == "" {
			fmt.Fprintln(r.out, "Usage: !recall <text>")
			break
		}
		recs, err := r.memory.RetrieveRelevant(ctx, memory.Query{
			Text:           arg,
			OwnerID:        r.session.OwnerID,
			ConversationID: r.session.ConversationID,
			K:              5,
		})
		if err != nil {
			r.fail(ctx, "recall", err)
			break
		}
		printRecords(r.out, recs)

	case cmdRecent:
		recs, err := r.memory.RetrieveRecent(ctx, r.session.OwnerID, r.session.ConversationID, 10)
		if err != nil {
			r.fail(ctx, "list recent memories", err)
			break
		}
		printRecords(r.out, recs)

	case cmdForget:
		if r.story.Cleanup(ctx, r.session.ConversationID) {
			fmt.Fprintln(r.out, "The story fades from memory.")
		} else {
			fmt.Fprintln(r.out, "Some memories could not be deleted; see the log.")
		}
		return false

	default:
		if strings.HasPrefix(cmd, "!") {
			fmt.Fprintf(r.out, "Unknown command %s. Type !help for commands.\n", cmd)
			break
		}
		reply, err := r.story.Continue(ctx, r.session, input, r.history)
		if err != nil {
			r.fail(ctx, "continue the story", err)
			break
		}
		r.remember(reasoning.RoleUser, input)
		r.remember(reasoning.RoleAssistant, reply)
		fmt.Fprintf(r.out, "\n%s\n\n", reply)
	}
	return true
}

func (r *repl) fail(ctx context.Context, what string, err error) {
	log.ErrorContext(ctx, "REPL command failed", "action", what, log.ErrAttr(err))
	fmt.Fprintf(r.out, "Failed to %s: %v\n", what, err)
}

// completer offers REPL commands for tab completion.
func completer(line string) (c []string) {
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, line) {
			c = append(c, cmd)
		}
	}
	return
}
