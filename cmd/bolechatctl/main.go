package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/bolechat/internal/client"
	"github.com/matheus3301/bolechat/internal/lock"
	"github.com/matheus3301/bolechat/internal/rpc"
	"github.com/matheus3301/bolechat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Listing sessions reads the filesystem; no daemon is needed.
	if args[0] == "sessions" {
		cmdSessions(sessionName, *jsonFlag)
		return
	}

	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "login":
		cmdLogin(ctx, c, args[1:], out)
	case "logout":
		resp, err := c.Session.Logout(ctx, &rpc.LogoutRequest{})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() { fmt.Printf("Logged out. Status: %s\n", resp.State) })
	case "conversations":
		refresh := len(args) > 1 && args[1] == "refresh"
		cmdConversations(ctx, c, refresh, out)
	case "new":
		need(args, 2, "new <recipientId>")
		resp, err := c.Conversation.Create(ctx, &rpc.CreateConversationRequest{RecipientID: args[1]})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() { printConversation(resp.Conversation) })
	case "open":
		need(args, 2, "open <conversationId>")
		resp, err := c.Conversation.Open(ctx, &rpc.OpenConversationRequest{ConversationID: args[1], Refresh: true})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() {
			printConversation(resp.Conversation)
			printMessages(resp.Messages)
		})
	case "messages":
		cmdMessages(ctx, c, args[1:], out)
	case "send":
		need(args, 3, "send <conversationId> <text>")
		resp, err := c.Message.Send(ctx, &rpc.SendMessageRequest{
			ConversationID: args[1],
			Content:        strings.Join(args[2:], " "),
		})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() { printSend(resp) })
		if resp.Failed {
			os.Exit(2)
		}
	case "retry":
		need(args, 2, "retry <tempId>")
		resp, err := c.Message.Retry(ctx, &rpc.RetryMessageRequest{TempID: args[1]})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() { printSend(resp) })
		if resp.Failed {
			os.Exit(2)
		}
	case "discard":
		need(args, 2, "discard <tempId>")
		resp, err := c.Message.Discard(ctx, &rpc.DiscardMessageRequest{TempID: args[1]})
		if err != nil {
			fail(err)
		}
		out.print(resp, func() { fmt.Printf("Discarded. Content was:\n%s\n", resp.Content) })
	case "search":
		cmdSearch(ctx, c, args[1:], out)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bolechatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                           Show session status")
	fmt.Fprintln(os.Stderr, "  login <token>                    Sign in with an access token")
	fmt.Fprintln(os.Stderr, "  login --user <u> --password <p>  Sign in with credentials")
	fmt.Fprintln(os.Stderr, "  logout                           Sign out and clear the cache")
	fmt.Fprintln(os.Stderr, "  conversations [refresh]          List conversations")
	fmt.Fprintln(os.Stderr, "  new <recipientId>                Start a conversation")
	fmt.Fprintln(os.Stderr, "  open <conversationId>            Open a conversation and show its history")
	fmt.Fprintln(os.Stderr, "  messages <conversationId> [--before <ms>] [--limit <n>] [--refresh]")
	fmt.Fprintln(os.Stderr, "  send <conversationId> <text>     Send a message")
	fmt.Fprintln(os.Stderr, "  retry <tempId>                   Re-send a failed message")
	fmt.Fprintln(os.Stderr, "  discard <tempId>                 Drop a failed message")
	fmt.Fprintln(os.Stderr, "  search <query> [--in <conversationId>]")
	fmt.Fprintln(os.Stderr, "  watch [prefix...]                Stream events")
	fmt.Fprintln(os.Stderr, "  sessions                         List known sessions")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: bolechatctl %s\n", usage)
		os.Exit(1)
	}
}

type output struct {
	json bool
}

func (o output) print(v any, text func()) {
	if o.json {
		outputJSON(v)
		return
	}
	text()
}

type sessionInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	PID     int    `json:"pid,omitempty"`
	Running bool   `json:"running"`
	Active  bool   `json:"active"`
}

func cmdSessions(active string, jsonOut bool) {
	names, err := session.List()
	if err != nil {
		fail(err)
	}
	infos := make([]sessionInfo, 0, len(names))
	for _, n := range names {
		pid := lock.Holder(session.Dir(n))
		infos = append(infos, sessionInfo{Name: n, Path: session.Dir(n), PID: pid, Running: pid > 0, Active: n == active})
	}
	output{json: jsonOut}.print(infos, func() {
		if len(infos) == 0 {
			fmt.Println("No sessions found.")
			return
		}
		for _, s := range infos {
			marker := " "
			if s.Active {
				marker = "*"
			}
			running := "stopped"
			if s.Running {
				running = fmt.Sprintf("running, pid %d", s.PID)
			}
			fmt.Printf("%s%-20s %s (%s)\n", marker, s.Name, s.Path, running)
		}
	})
}

func cmdStatus(ctx context.Context, c *client.Client, out output) {
	resp, err := c.Session.Status(ctx, &rpc.StatusRequest{})
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		fmt.Printf("Session:       %s\n", resp.Session)
		fmt.Printf("Status:        %s\n", resp.State)
		if resp.UserID != "" {
			fmt.Printf("User:          %s\n", resp.UserID)
		}
		fmt.Printf("API:           %s\n", resp.APIURL)
		fmt.Printf("Push:          %s\n", pushState(resp))
		fmt.Printf("Conversations: %d\n", resp.Conversations)
		if resp.LastSyncedMs > 0 {
			fmt.Printf("Last sync:     %s\n", time.UnixMilli(resp.LastSyncedMs).Format(time.RFC3339))
		}
		if resp.UnsentOutbox > 0 {
			fmt.Printf("Unsent:        %d\n", resp.UnsentOutbox)
		}
		if resp.DroppedEvents > 0 {
			fmt.Printf("Dropped:       %d events\n", resp.DroppedEvents)
		}
		if resp.LastError != "" {
			fmt.Printf("Last error:    %s\n", resp.LastError)
		}
		fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	})
}

func cmdLogin(ctx context.Context, c *client.Client, args []string, out output) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "", "username")
	password := fs.String("password", "", "password")
	_ = fs.Parse(args)

	req := &rpc.LoginRequest{Username: *user, Password: *password}
	if fs.NArg() > 0 {
		req.Token = fs.Arg(0)
	}
	if req.Token == "" && req.Username == "" {
		fmt.Fprintln(os.Stderr, "usage: bolechatctl login <token> | login --user <u> --password <p>")
		os.Exit(1)
	}
	resp, err := c.Session.Login(ctx, req)
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		fmt.Printf("Signed in as %s. Status: %s\n", resp.UserID, resp.State)
		if resp.ExpiresMs > 0 {
			fmt.Printf("Token expires %s\n", time.UnixMilli(resp.ExpiresMs).Format(time.RFC3339))
		}
	})
}

func cmdConversations(ctx context.Context, c *client.Client, refresh bool, out output) {
	resp, err := c.Conversation.List(ctx, &rpc.ListConversationsRequest{Refresh: refresh})
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		if len(resp.Conversations) == 0 {
			fmt.Println("No conversations.")
			return
		}
		for _, conv := range resp.Conversations {
			marker := " "
			if conv.ID == resp.Current {
				marker = "*"
			}
			fmt.Print(marker)
			printConversation(conv)
		}
	})
}

func cmdMessages(ctx context.Context, c *client.Client, args []string, out output) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bolechatctl messages <conversationId> [--before <ms>] [--limit <n>] [--refresh]")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	before := fs.Int64("before", 0, "page messages older than this unix ms")
	limit := fs.Int("limit", 0, "maximum messages")
	refresh := fs.Bool("refresh", false, "reload from the backend first")
	_ = fs.Parse(args[1:])

	resp, err := c.Message.List(ctx, &rpc.ListMessagesRequest{
		ConversationID: args[0],
		BeforeMs:       *before,
		Limit:          *limit,
		Refresh:        *refresh,
	})
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		printMessages(resp.Messages)
		if resp.HasMore && len(resp.Messages) > 0 {
			fmt.Printf("(older messages: --before %d)\n", resp.Messages[0].TimestampMs)
		}
	})
}

func cmdSearch(ctx context.Context, c *client.Client, args []string, out output) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	in := fs.String("in", "", "restrict to one conversation")
	limit := fs.Int("limit", 20, "maximum results")
	_ = fs.Parse(reorder(args))
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: bolechatctl search <query> [--in <conversationId>]")
		os.Exit(1)
	}
	resp, err := c.Message.Search(ctx, &rpc.SearchMessagesRequest{
		Query:          strings.Join(fs.Args(), " "),
		ConversationID: *in,
		Limit:          *limit,
	})
	if err != nil {
		fail(err)
	}
	out.print(resp, func() {
		if len(resp.Results) == 0 {
			fmt.Println("No matches.")
			return
		}
		for _, r := range resp.Results {
			fmt.Printf("%s  %s  %s: %s\n", r.Message.ConversationID, stamp(r.Message), r.Message.SenderID, r.Snippet)
		}
	})
}

// cmdWatch streams events from all three services until interrupted.
func cmdWatch(ctx context.Context, c *client.Client, prefixes []string, jsonOut bool) {
	streams := map[string]func(context.Context, *rpc.WatchRequest) (*rpc.EventReceiver, error){
		"session.":      func(ctx context.Context, r *rpc.WatchRequest) (*rpc.EventReceiver, error) { return c.Session.Watch(ctx, r) },
		"rt.":           func(ctx context.Context, r *rpc.WatchRequest) (*rpc.EventReceiver, error) { return c.Session.Watch(ctx, r) },
		"conversation.": func(ctx context.Context, r *rpc.WatchRequest) (*rpc.EventReceiver, error) { return c.Conversation.Watch(ctx, r) },
		"message.":      func(ctx context.Context, r *rpc.WatchRequest) (*rpc.EventReceiver, error) { return c.Message.Watch(ctx, r) },
	}

	events := make(chan *rpc.Event, 64)
	errs := make(chan error, 3)
	started := 0
	open := func(namespace string, req *rpc.WatchRequest) {
		recv, err := streams[namespace](ctx, req)
		if err != nil {
			fail(err)
		}
		started++
		go func() {
			for {
				e, err := recv.Recv()
				if err != nil {
					errs <- err
					return
				}
				events <- e
			}
		}()
	}

	if len(prefixes) == 0 {
		open("session.", &rpc.WatchRequest{})
		open("conversation.", &rpc.WatchRequest{})
		open("message.", &rpc.WatchRequest{})
	} else {
		// The session stream serves a fixed set of kinds; it is filtered
		// here instead of on the daemon.
		byService := map[string][]string{}
		for _, p := range prefixes {
			ns := namespaceOf(p)
			if ns == "" {
				fail(fmt.Errorf("unknown event prefix %q", p))
			}
			if p == strings.TrimSuffix(ns, ".") {
				p = ns
			}
			if ns == "rt." {
				ns = "session."
			}
			byService[ns] = append(byService[ns], p)
		}
		for ns, ps := range byService {
			if ns == "session." {
				ps = nil
			}
			open(ns, &rpc.WatchRequest{Prefixes: ps})
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				started--
				if started == 0 {
					return
				}
				continue
			}
			fail(err)
		case e := <-events:
			if !wanted(e.Kind, prefixes) {
				continue
			}
			if jsonOut {
				_ = json.NewEncoder(os.Stdout).Encode(e)
				continue
			}
			printEvent(e)
		}
	}
}

func wanted(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

func namespaceOf(prefix string) string {
	for _, ns := range []string{"session.", "rt.", "conversation.", "message."} {
		if strings.HasPrefix(prefix, ns) || prefix == strings.TrimSuffix(ns, ".") {
			return ns
		}
	}
	return ""
}

// reorder moves flags ahead of positional arguments so "search foo --in x"
// parses like "search --in x foo".
func reorder(args []string) []string {
	var flags, rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
			if !strings.Contains(a, "=") && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		rest = append(rest, a)
	}
	return append(flags, rest...)
}

func printConversation(conv rpc.Conversation) {
	unread := ""
	if conv.UnreadCount > 0 {
		unread = " (" + strconv.Itoa(conv.UnreadCount) + " unread)"
	}
	last := ""
	if conv.LastMessage != nil {
		last = "  " + truncate(conv.LastMessage.Content, 40)
	}
	fmt.Printf("%-38s %s%s%s\n", conv.ID, strings.Join(conv.Participants, ","), unread, last)
}

func printMessages(msgs []rpc.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		id := m.ID
		if m.Pending {
			id = "~" + m.TempID
		}
		fmt.Printf("%s  %-10s %-9s %s  [%s]\n", stamp(m), m.SenderID, m.Status, m.Content, id)
	}
}

func printSend(resp *rpc.SendMessageResponse) {
	if resp.Failed {
		fmt.Fprintf(os.Stderr, "send failed: %s\n", resp.Error)
		fmt.Fprintf(os.Stderr, "retry with: bolechatctl retry %s\n", resp.Message.TempID)
		return
	}
	fmt.Printf("Sent %s (%s)\n", resp.Message.ID, resp.Message.Status)
}

func printEvent(e *rpc.Event) {
	at := time.UnixMilli(e.AtMs).Format("15:04:05")
	switch {
	case e.Message != nil:
		fmt.Printf("%s %-24s %s %s: %s [%s]\n", at, e.Kind, e.Message.ConversationID, e.Message.SenderID, e.Message.Content, e.Message.Status)
	case e.From != "" || e.To != "":
		fmt.Printf("%s %-24s %s -> %s\n", at, e.Kind, e.From, e.To)
	case e.Error != "":
		fmt.Printf("%s %-24s %s %s\n", at, e.Kind, e.TempID, e.Error)
	default:
		fmt.Printf("%s %-24s %s %s\n", at, e.Kind, e.ConversationID, e.MessageID)
	}
}

func stamp(m rpc.Message) string {
	return m.Time().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func pushState(resp *rpc.StatusResponse) string {
	switch {
	case resp.PushConnected:
		return "connected"
	case resp.PushRunning:
		return "reconnecting"
	}
	return "disconnected"
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
