package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"settingsd/internal/hostkey"
	"settingsd/internal/logging"
	"settingsd/internal/settings"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

var sshlog = logging.For("ssh")

// Server is an SSH server that exposes a settings console to holders of an
// authorized key. Interactive shells get a line-editing prompt; exec requests
// (ssh host /get theme) run one command and return its exit status.
type Server struct {
	addr     string
	settings settings.Catalog
	commands *CommandRegistry
	authKeys []gossh.PublicKey
	config   *gossh.ServerConfig
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates an SSH server. authKeysPath points to an authorized_keys
// file in OpenSSH format. If the file doesn't exist, the server starts but
// rejects all connections.
func NewServer(addr string, hk *hostkey.HostKey, svc settings.Catalog, authKeysPath string) (*Server, error) {
	if hk == nil || hk.Signer == nil {
		return nil, fmt.Errorf("ssh: host key required")
	}
	if svc == nil {
		return nil, fmt.Errorf("ssh: settings required")
	}

	registry := NewCommandRegistry()
	registry.RegisterBuiltins()

	s := &Server{
		addr:     addr,
		settings: svc,
		commands: registry,
		conns:    make(map[net.Conn]struct{}),
	}

	s.authKeys = loadAuthorizedKeys(authKeysPath)
	if len(s.authKeys) == 0 {
		sshlog.Warn("no authorized keys loaded", "path", authKeysPath)
	}

	s.config = &gossh.ServerConfig{
		PublicKeyCallback: s.publicKeyCallback,
	}
	s.config.AddHostKey(hk.Signer)

	return s, nil
}

// Listen binds the server socket. Call Serve to start accepting connections.
// Once Listen is called, the command registry is frozen.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.commands.Freeze()
	return nil
}

// Addr returns the listener's address. Useful when listening on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Serve accepts SSH connections until ctx is cancelled. Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			if isClosed(err) {
				return nil
			}
			sshlog.Warn("accept error", "err", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// Stop closes the listener and all active connections.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// Commands returns the server's command registry so callers can add commands
// before the server starts. Register panics once Listen has been called.
func (s *Server) Commands() CommandRegistrar {
	return s.commands
}

func isClosed(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) publicKeyCallback(meta gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
	keyBytes := key.Marshal()
	for _, authorized := range s.authKeys {
		if bytes.Equal(keyBytes, authorized.Marshal()) {
			return &gossh.Permissions{
				Extensions: map[string]string{"pubkey-fp": gossh.FingerprintSHA256(key)},
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown public key for %s", meta.User())
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	defer s.removeConn(conn)

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, s.config)
	if err != nil {
		sshlog.Warn("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	defer func() { _ = sshConn.Close() }()

	sshlog.Info("client connected", "remote", conn.RemoteAddr(), "user", sshConn.User(),
		"key", sshConn.Permissions.Extensions["pubkey-fp"])
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			sshlog.Warn("channel accept error", "err", err)
			continue
		}
		go s.handleSession(channel, requests, sshConn.User())
	}
}

func (s *Server) handleSession(ch gossh.Channel, reqs <-chan *gossh.Request, user string) {
	defer func() { _ = ch.Close() }()

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go drainRequests(reqs)
			s.runTerminal(ch, user)
			sendExitStatus(ch, 0)
			return
		case "exec":
			var payload struct{ Command string }
			if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go drainRequests(reqs)
			sendExitStatus(ch, s.runExec(ch, user, payload.Command))
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func drainRequests(reqs <-chan *gossh.Request) {
	for req := range reqs {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

func sendExitStatus(ch gossh.Channel, status uint32) {
	msg := struct{ Status uint32 }{status}
	_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(&msg))
}

// runExec runs a single command line. The leading slash is optional.
func (s *Server) runExec(ch gossh.Channel, user, line string) uint32 {
	line = strings.TrimSpace(line)
	if line != "" && !strings.HasPrefix(line, "/") {
		line = "/" + line
	}
	sshlog.Debug("exec", "user", user, "command", line)
	if _, ok := s.commands.Dispatch(line, ch, s.settings, user); !ok {
		return 1
	}
	return 0
}

func (s *Server) runTerminal(ch gossh.Channel, user string) {
	terminal := term.NewTerminal(ch, fmt.Sprintf("[%s]> ", user))

	_, _ = fmt.Fprintln(terminal, "settingsd console. Type /help for commands.")
	_, _ = fmt.Fprintln(terminal, "")

	for {
		line, err := terminal.ReadLine()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			_, _ = fmt.Fprintln(terminal, "Commands start with / (try /help)")
			continue
		}
		if quit, _ := s.commands.Dispatch(line, terminal, s.settings, user); quit {
			return
		}
	}
}

func loadAuthorizedKeys(path string) []gossh.PublicKey {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var keys []gossh.PublicKey
	for len(data) > 0 {
		key, _, _, rest, err := gossh.ParseAuthorizedKey(data)
		if err != nil {
			break
		}
		keys = append(keys, key)
		data = rest
	}
	return keys
}
