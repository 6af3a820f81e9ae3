package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/omochice/chatlink/internal/botapi"
	"github.com/omochice/chatlink/internal/chat"
	"github.com/omochice/chatlink/internal/event"
)

const helpText = `commands:
  /bot <name> <llm> <prompt...>  create a bot and add it to this conversation
  /who                           list known participants
  /history                       show this conversation and mark it read
  /list                          list conversations with unread counts
  /quit                          leave`

type sender interface {
	UserID() string
	SendMessage(content, conversationID string) error
}

type botCreator interface {
	CreateBot(ctx context.Context, req botapi.CreateBotRequest) (botapi.BotID, error)
	AddBotToChannel(ctx context.Context, channelID string, botID botapi.BotID) error
}

type eventStore interface {
	Apply(e event.Event)
	Participants(conversationID string) []string
	AddMessage(conversationID string, m chat.Message) chat.Message
	Messages(conversationID string) []chat.Message
	Conversations() []chat.Conversation
	MarkRead(conversationID string)
}

// session connects terminal input and output to one conversation.
type session struct {
	conversationID string
	sender         sender
	bots           botCreator
	store          eventStore

	mu  sync.Mutex
	out io.Writer
}

// handle records e in the store and prints what the user should see.
func (s *session) handle(e event.Event) {
	s.store.Apply(e)

	switch e := e.(type) {
	case event.Message:
		s.printf("[%s] %s\n", e.Message.SenderID, e.Message.Content)
	case event.ConnectionStateChanged:
		s.printf("*** %s ***\n", e.State)
	case event.UserTyping:
		if e.IsTyping {
			s.printf("*** %s is typing ***\n", e.UserID)
		}
	}
}

// run reads lines from in until EOF, /quit or ctx is done.
func (s *session) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.printf("Type your messages, /help for commands\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return errors.Wrap(err, "read input")
				default:
					return nil
				}
			}
			if done := s.exec(ctx, strings.TrimSpace(line)); done {
				return nil
			}
		}
	}
}

// exec runs one input line and reports whether the session should end.
func (s *session) exec(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := s.sender.SendMessage(line, s.conversationID); err != nil {
			s.printf("!!! not sent: %v\n", err)
			return false
		}
		// the relay echo is suppressed, so this is the only copy of it
		s.store.AddMessage(s.conversationID, chat.Message{
			Content:     line,
			ContentType: chat.ContentTypeTextPlain,
			SenderID:    s.sender.UserID(),
			Direction:   chat.DirectionOutgoing,
			Status:      chat.StatusSent,
		})
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		s.printf("%s\n", helpText)
	case "/who":
		s.printf("participants: %s\n", strings.Join(s.store.Participants(s.conversationID), ", "))
	case "/history":
		for _, m := range s.store.Messages(s.conversationID) {
			s.printf("%s [%s] %s\n", m.CreatedAt.Format("15:04:05"), m.SenderID, m.Content)
		}
		s.store.MarkRead(s.conversationID)
	case "/list":
		for _, c := range s.store.Conversations() {
			s.printf("%s (%d unread)\n", c.ID, c.UnreadCounter)
		}
	case "/bot":
		if len(fields) < 4 {
			s.printf("usage: /bot <name> <llm> <prompt...>\n")
			return false
		}
		req := botapi.CreateBotRequest{Name: fields[1], LLM: fields[2], Prompt: strings.Join(fields[3:], " ")}
		if err := s.addBot(ctx, req); err != nil {
			s.printf("!!! %v\n", err)
		}
	default:
		s.printf("unknown command %s, try /help\n", fields[0])
	}
	return false
}

func (s *session) addBot(ctx context.Context, req botapi.CreateBotRequest) error {
	id, err := s.bots.CreateBot(ctx, req)
	if err != nil {
		return err
	}
	if err := s.bots.AddBotToChannel(ctx, s.conversationID, id); err != nil {
		return err
	}
	s.printf("*** bot %s (%s) added ***\n", req.Name, id)
	return nil
}

func (s *session) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
