package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/client"
	"github.com/matheus3301/courier/internal/paths"
	"github.com/spf13/pflag"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func main() {
	flags := pflag.NewFlagSet("courierctl", pflag.ContinueOnError)
	socketFlag := flags.String("socket", "", "daemon unix socket (default <data-dir>/courierd.sock)")
	dataDirFlag := flags.String("data-dir", "", "data directory used to find the socket")
	addrFlag := flags.String("addr", "", "dial a TCP address instead of the unix socket")
	asFlag := flags.String("as", os.Getenv("COURIER_USER"), "act as this user id (default $COURIER_USER)")
	jsonFlag := flags.Bool("json", false, "output in JSON format")
	timeoutFlag := flags.Duration("timeout", 10*time.Second, "deadline for non-streaming commands")
	afterFlag := flags.Int64("after", 0, "messages: only show messages after this sequence number")
	limitFlag := flags.Int("limit", 0, "messages: maximum number of messages")
	flags.Usage = func() { printUsage(flags) }
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	args := flags.Args()
	if len(args) == 0 {
		printUsage(flags)
		os.Exit(1)
	}

	var (
		c   *client.Client
		err error
	)
	if *addrFlag != "" {
		c, err = client.Dial(*addrFlag, *asFlag)
	} else {
		socketPath := *socketFlag
		if socketPath == "" {
			socketPath = paths.SocketPath(paths.Resolve(*dataDirFlag, ""))
		}
		c, err = client.New(socketPath, *asFlag)
	}
	if err != nil {
		fatal(fmt.Errorf("cannot connect to daemon: %w", err))
	}
	defer func() { _ = c.Close() }()

	cmd, rest := args[0], args[1:]
	if cmd == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, rest, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	switch cmd {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "start":
		need(rest, 1, "start <peer>")
		cmdStart(ctx, c, rest[0], *jsonFlag)
	case "send":
		need(rest, 2, "send <conversation> <text>")
		cmdSend(ctx, c, rest[0], strings.Join(rest[1:], " "), *jsonFlag)
	case "read":
		need(rest, 1, "read <conversation>")
		cmdRead(ctx, c, rest[0], *jsonFlag)
	case "messages":
		need(rest, 1, "messages <conversation>")
		cmdMessages(ctx, c, rest[0], *afterFlag, *limitFlag, *jsonFlag)
	case "list":
		cmdList(ctx, c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage(flags)
		os.Exit(1)
	}
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: courierctl [flags] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show daemon status")
	fmt.Fprintln(os.Stderr, "  start <peer>                 Create or get the conversation with peer")
	fmt.Fprintln(os.Stderr, "  send <conversation> <text>   Send a message")
	fmt.Fprintln(os.Stderr, "  read <conversation>          Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  messages <conversation>      List messages")
	fmt.Fprintln(os.Stderr, "  list                         List conversations")
	fmt.Fprintln(os.Stderr, "  watch [conversation]         Follow a conversation, or your list")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "flags:")
	fmt.Fprint(os.Stderr, flags.FlagUsages())
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: courierctl %s\n", usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	if st, ok := grpcstatus.FromError(err); ok && st.Code() != codes.Unknown {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.Code(), st.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Messaging.GetStatus(ctx, &api.GetStatusRequest{})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Status:        %s\n", resp.Status)
	if resp.StatusMessage != "" {
		fmt.Printf("Reason:        %s\n", resp.StatusMessage)
	}
	fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Conversations: %d\n", resp.Conversations)
	fmt.Printf("Messages:      %d\n", resp.Messages)
	fmt.Printf("Subscriptions: %d\n", resp.Subscriptions)
	fmt.Printf("Events:        %d published, %d dropped\n", resp.Published, resp.Dropped)
}

func cmdStart(ctx context.Context, c *client.Client, peer string, jsonOut bool) {
	resp, err := c.Messaging.CreateConversation(ctx, &api.CreateConversationRequest{PeerID: peer})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Println(resp.Conversation.ID)
}

func cmdSend(ctx context.Context, c *client.Client, conversationID, text string, jsonOut bool) {
	resp, err := c.Messaging.SendMessage(ctx, &api.SendMessageRequest{ConversationID: conversationID, Content: text})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("sent #%d at %s\n", resp.Message.ID, formatTime(resp.Message.SentAt))
}

func cmdRead(ctx context.Context, c *client.Client, conversationID string, jsonOut bool) {
	resp, err := c.Messaging.MarkRead(ctx, &api.MarkReadRequest{ConversationID: conversationID})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("marked %d message(s) read\n", resp.Marked)
}

func cmdMessages(ctx context.Context, c *client.Client, conversationID string, after int64, limit int, jsonOut bool) {
	resp, err := c.Messaging.ListMessages(ctx, &api.ListMessagesRequest{ConversationID: conversationID, AfterSeq: after, Limit: limit})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, m := range resp.Messages {
		printMessage(m)
	}
	if resp.HasMore {
		last := resp.Messages[len(resp.Messages)-1].ID
		fmt.Printf("... more after #%s (use --after)\n", strconv.FormatInt(last, 10))
	}
}

func printMessage(m api.Message) {
	mark := " "
	if !m.Read {
		mark = "*"
	}
	fmt.Printf("%s #%-4d %s  %-12s %s\n", mark, m.ID, formatTime(m.SentAt), m.SenderID, m.Content)
}

func cmdList(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Messaging.ListConversations(ctx, &api.ListConversationsRequest{})
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Summaries) == 0 {
		fmt.Println("no conversations")
		return
	}
	for _, s := range resp.Summaries {
		printSummary(s)
	}
}

func printSummary(s api.Summary) {
	unread := ""
	if s.UnreadCount > 0 {
		unread = fmt.Sprintf(" (%d unread)", s.UnreadCount)
	}
	fmt.Printf("%-24s %-16s %s  %s%s\n", s.ConversationID, s.OtherName, formatTime(s.LastMessageAt), s.LastMessagePreview, unread)
}

func cmdWatch(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	var (
		recv *api.EventReceiver
		err  error
	)
	if len(args) > 0 {
		recv, err = c.Messaging.WatchConversation(ctx, &api.WatchConversationRequest{ConversationID: args[0]})
	} else {
		recv, err = c.Messaging.WatchSummaries(ctx, &api.WatchSummariesRequest{})
	}
	if err != nil {
		fatal(err)
	}

	for {
		evt, err := recv.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fatal(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		switch {
		case evt.Message != nil:
			printMessage(*evt.Message)
		case evt.Summary != nil:
			printSummary(*evt.Summary)
		}
	}
}
