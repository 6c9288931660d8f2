package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/renegadezed/zeddybot/telemetry"
)

// DefaultServerAddr is the Twitch IRC ingress (plain TCP).
const DefaultServerAddr = "irc.chat.twitch.tv:6667"

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pongTimeout      = 5 * time.Second

	// Sent to the channel right after joining so operators can see the
	// bot came up with working credentials.
	connectedMessage = "ZeddyBot is now active in chat!"
)

var errAuthFailed = errors.New("twitch irc: login authentication failed")

// Transport is a raw-socket Twitch IRC client for a single channel.
//
// All exported methods are safe for concurrent use. The zero value is not
// usable; construct with NewTransport and set hooks before Connect.
type Transport struct {
	// Addr is the IRC server address. Defaults to DefaultServerAddr.
	Addr string
	// Nick is the bot account login name.
	Nick string
	// Channel is the channel to join, without the leading '#'.
	Channel string
	// Token returns the current bot access token (without the oauth: prefix).
	// It is called on every connect so rotated tokens are picked up.
	Token func() string
	// Dial opens the underlying connection. Defaults to a TCP dial of Addr.
	Dial func(ctx context.Context) (net.Conn, error)
	// OnAuthFailure is invoked when the server rejects the PASS credential
	// during the handshake. If it returns nil the handshake is retried once
	// with a fresh token.
	OnAuthFailure func(ctx context.Context) error
	// OnMessage receives every PRIVMSG observed in the channel. Called from
	// the read loop goroutine.
	OnMessage func(Message)

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	pongCh    chan struct{}
}

// NewTransport returns a transport for the given bot account and channel.
func NewTransport(nick, channel string, token func() string) *Transport {
	return &Transport{
		Addr:    DefaultServerAddr,
		Nick:    nick,
		Channel: strings.ToLower(strings.TrimPrefix(channel, "#")),
		Token:   token,
	}
}

// Connected reports whether the transport currently holds a joined connection.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect dials the server, authenticates, and joins the channel. The
// connection only counts as established once the server sends the 001
// welcome reply. An authentication failure triggers OnAuthFailure and one
// handshake retry with the refreshed token.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectLocked(ctx)
}

func (t *Transport) connectLocked(ctx context.Context) error {
	t.closeConnLocked()

	for attempt := 0; ; attempt++ {
		conn, err := t.dial(ctx)
		if err != nil {
			return fmt.Errorf("dial twitch irc: %w", err)
		}
		r := bufio.NewReader(conn)
		err = t.handshake(conn, r)
		if errors.Is(err, errAuthFailed) && attempt == 0 && t.OnAuthFailure != nil {
			conn.Close()
			slog.Warn("twitch irc auth failed, refreshing token")
			if rerr := t.OnAuthFailure(ctx); rerr != nil {
				return fmt.Errorf("refresh after auth failure: %w", rerr)
			}
			continue
		}
		if err != nil {
			conn.Close()
			return err
		}

		if err := writeLine(conn, "JOIN #"+t.Channel); err != nil {
			conn.Close()
			return fmt.Errorf("join channel: %w", err)
		}

		t.conn = conn
		t.connected = true
		t.pongCh = make(chan struct{}, 1)
		telemetry.SetChatConnected(true)
		go t.readLoop(conn, r)

		if err := writeLine(conn, "PRIVMSG #"+t.Channel+" :"+connectedMessage); err != nil {
			slog.Warn("failed to send join confirmation", slog.Any("err", err))
		}
		slog.Info("connected to twitch chat",
			slog.String("nick", t.Nick),
			slog.String("channel", t.Channel))
		return nil
	}
}

// handshake sends PASS/NICK and reads replies until the 001 welcome or an
// authentication failure NOTICE.
func (t *Transport) handshake(conn net.Conn, r *bufio.Reader) error {
	deadline := time.Now().Add(handshakeTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	token := ""
	if t.Token != nil {
		token = t.Token()
	}
	if token == "" {
		return errors.New("twitch irc: no bot access token available")
	}
	if err := writeLine(conn, "PASS oauth:"+token); err != nil {
		return fmt.Errorf("send PASS: %w", err)
	}
	if err := writeLine(conn, "NICK "+t.Nick); err != nil {
		return fmt.Errorf("send NICK: %w", err)
	}

	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read handshake reply: %w", err)
		}
		line := strings.TrimRight(raw, "\r\n")
		switch {
		case strings.Contains(line, "Login authentication failed"):
			return errAuthFailed
		case strings.HasPrefix(line, "PING"):
			if err := writeLine(conn, "PONG"+strings.TrimPrefix(line, "PING")); err != nil {
				return fmt.Errorf("send PONG: %w", err)
			}
		default:
			if fields := strings.Fields(line); len(fields) >= 2 && fields[1] == "001" {
				return nil
			}
		}
	}
}

// SendMessage delivers text to the joined channel. A send on a dead socket
// reconnects and retries exactly once before reporting failure.
func (t *Transport) SendMessage(ctx context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		telemetry.ChatReconnects.Inc()
		if err := t.connectLocked(ctx); err != nil {
			telemetry.ChatSendFailures.Inc()
			return fmt.Errorf("reconnect before send: %w", err)
		}
	}

	line := "PRIVMSG #" + t.Channel + " :" + text
	err := writeLine(t.conn, line)
	if err != nil {
		slog.Warn("chat send failed, reconnecting", slog.Any("err", err))
		telemetry.ChatReconnects.Inc()
		if cerr := t.connectLocked(ctx); cerr != nil {
			telemetry.ChatSendFailures.Inc()
			return fmt.Errorf("reconnect after send failure: %w", cerr)
		}
		if err = writeLine(t.conn, line); err != nil {
			telemetry.ChatSendFailures.Inc()
			return fmt.Errorf("send after reconnect: %w", err)
		}
	}
	telemetry.ChatMessagesSent.Inc()
	return nil
}

// CheckLiveness probes the connection with a PING and reconnects when no
// PONG arrives in time. Intended to run on a keepalive ticker.
func (t *Transport) CheckLiveness(ctx context.Context) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		telemetry.ChatReconnects.Inc()
		return t.Connect(ctx)
	}
	conn := t.conn
	pongCh := t.pongCh
	// Drain a stale PONG from a previous probe.
	select {
	case <-pongCh:
	default:
	}
	err := writeLine(conn, "PING :keepalive")
	t.mu.Unlock()

	if err == nil {
		select {
		case <-pongCh:
			return nil
		case <-time.After(pongTimeout):
			err = errors.New("twitch irc: keepalive PONG timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	slog.Warn("chat keepalive failed, reconnecting", slog.Any("err", err))
	telemetry.ChatReconnects.Inc()
	if cerr := t.Connect(ctx); cerr != nil {
		return fmt.Errorf("reconnect after failed keepalive: %w", cerr)
	}
	return nil
}

// Close sends a best-effort QUIT and tears down the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		_ = writeLine(t.conn, "QUIT")
	}
	t.closeConnLocked()
	return nil
}

func (t *Transport) closeConnLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.connected {
		t.connected = false
		telemetry.SetChatConnected(false)
	}
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	if t.Dial != nil {
		return t.Dial(ctx)
	}
	addr := t.Addr
	if addr == "" {
		addr = DefaultServerAddr
	}
	d := net.Dialer{Timeout: 10 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// readLoop consumes server lines until the connection dies. It answers
// PING, surfaces PONG to liveness probes, and dispatches PRIVMSG.
func (t *Transport) readLoop(conn net.Conn, r *bufio.Reader) {
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			t.markDisconnected(conn)
			return
		}
		t.handleLine(conn, strings.TrimRight(raw, "\r\n"))
	}
}

func (t *Transport) handleLine(conn net.Conn, line string) {
	switch ircCommand(line) {
	case "PING":
		reply := "PONG"
		if _, payload, ok := strings.Cut(line, "PING"); ok {
			reply += payload
		}
		if err := writeLine(conn, reply); err != nil {
			slog.Warn("failed to answer server PING", slog.Any("err", err))
		}
	case "PONG":
		t.mu.Lock()
		pongCh := t.pongCh
		t.mu.Unlock()
		if pongCh != nil {
			select {
			case pongCh <- struct{}{}:
			default:
			}
		}
	case "PRIVMSG":
		msg, ok := parsePrivMsg(line)
		if !ok {
			return
		}
		telemetry.ChatMessagesReceived.Inc()
		if t.OnMessage != nil {
			t.OnMessage(msg)
		}
	}
}

// ircCommand returns the command token of a server line: the first field,
// or the second when the line carries a ":prefix". Message bodies never
// influence dispatch.
func ircCommand(line string) string {
	rest := line
	if strings.HasPrefix(rest, ":") {
		_, after, ok := strings.Cut(rest, " ")
		if !ok {
			return ""
		}
		rest = after
	}
	cmd, _, _ := strings.Cut(rest, " ")
	return cmd
}

// markDisconnected flips the connected flag if conn is still the active
// connection. A reconnect may already have replaced it.
func (t *Transport) markDisconnected(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.closeConnLocked()
	}
}

// parsePrivMsg extracts the sender, channel, and text from a line of the
// form ":nick!nick@nick.tmi.twitch.tv PRIVMSG #channel :text".
func parsePrivMsg(line string) (Message, bool) {
	if !strings.HasPrefix(line, ":") {
		return Message{}, false
	}
	prefix, rest, ok := strings.Cut(line[1:], " PRIVMSG ")
	if !ok {
		return Message{}, false
	}
	user := prefix
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		user = prefix[:i]
	}
	channel, text, ok := strings.Cut(rest, " :")
	if !ok {
		return Message{}, false
	}
	return Message{
		Channel:  strings.ToLower(strings.TrimPrefix(channel, "#")),
		Username: strings.ToLower(user),
		Text:     text,
		At:       time.Now().UTC(),
	}, true
}

func writeLine(conn net.Conn, line string) error {
	if conn == nil {
		return errors.New("twitch irc: not connected")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	defer conn.SetWriteDeadline(time.Time{})
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}
