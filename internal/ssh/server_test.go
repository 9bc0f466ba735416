package ssh_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"settingsd/internal/hostkey"
	"settingsd/internal/logging"
	"settingsd/internal/settings"
	sshserver "settingsd/internal/ssh"
	"settingsd/internal/store/memory"

	gossh "golang.org/x/crypto/ssh"
)

type fixture struct {
	srv    *sshserver.Server
	svc    *settings.Accessor
	signer gossh.Signer
}

// newClientKey returns a fresh client signer and its authorized_keys line.
func newClientKey(t *testing.T) (gossh.Signer, []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("converting client key: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	return signer, gossh.MarshalAuthorizedKey(sshPub)
}

func startServer(t *testing.T) *fixture {
	t.Helper()
	tmpDir := t.TempDir()

	hk, err := hostkey.Load(tmpDir)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}

	signer, line := newClientKey(t)
	authKeysPath := filepath.Join(tmpDir, "authorized_keys")
	if err := os.WriteFile(authKeysPath, line, 0600); err != nil {
		t.Fatalf("writing authorized_keys: %v", err)
	}

	svc, err := settings.NewAccessor(memory.New(), "ssh-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	srv, err := sshserver.NewServer("127.0.0.1:0", hk, svc, authKeysPath)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})
	go func() { _ = srv.Serve(ctx) }()

	return &fixture{srv: srv, svc: svc, signer: signer}
}

func dial(t *testing.T, addr string, signer gossh.Signer) (*gossh.Client, error) {
	t.Helper()
	return gossh.Dial("tcp", addr, &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestSSHConsole(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	f := startServer(t)
	client, err := dial(t, f.srv.Addr(), f.signer)
	if err != nil {
		t.Fatalf("ssh dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer func() { _ = session.Close() }()

	if err := session.RequestPty("xterm", 40, 80, gossh.TerminalModes{}); err != nil {
		t.Fatalf("pty: %v", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout: %v", err)
	}
	if err := session.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	var mu sync.Mutex
	var buf strings.Builder
	go func() {
		tmp := make([]byte, 4096)
		for {
			n, err := stdout.Read(tmp)
			if n > 0 {
				mu.Lock()
				buf.Write(tmp[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	// pos tracks where we last matched, so each waitFor only looks at new output
	pos := 0

	waitFor := func(substr string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			got := buf.String()
			mu.Unlock()
			if idx := strings.Index(got[pos:], substr); idx >= 0 {
				pos += idx + len(substr)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		got := buf.String()
		mu.Unlock()
		t.Fatalf("timeout waiting for %q in output:\n%s", substr, got[pos:])
	}

	send := func(cmd string) {
		if _, err := stdin.Write([]byte(cmd + "\r")); err != nil {
			t.Fatalf("writing command %q: %v", cmd, err)
		}
	}

	waitFor("settingsd console")

	send("/set theme dark")
	waitFor("Set theme = dark")

	send("/get theme")
	waitFor("theme = dark")

	send("/list")
	waitFor("Settings (1):")

	send("hello")
	waitFor("Commands start with /")

	send("/del theme")
	waitFor("Removed theme")

	send("/get theme")
	waitFor("theme: not set")

	send("/help")
	waitFor("Commands:")
	waitFor("/get <key>")
	waitFor("/quit")

	send("/bogus")
	waitFor("Unknown command: /bogus")

	send("/quit")
	waitFor("Goodbye")

	time.Sleep(100 * time.Millisecond) // let server process disconnect

	if _, found, _ := f.svc.Retrieve("theme"); found {
		t.Error("theme should have been removed through the console")
	}
	if !capture.Has(slog.LevelInfo, "client connected") {
		t.Error("expected INFO log: client connected")
	}
	if !capture.HasAttr(slog.LevelInfo, "setting stored", "key", "theme") {
		t.Error("expected INFO log: setting stored key=theme")
	}
	if capture.Count(slog.LevelError) != 0 {
		t.Errorf("unexpected ERROR logs: %d", capture.Count(slog.LevelError))
	}
}

func TestSSHExec(t *testing.T) {
	f := startServer(t)
	client, err := dial(t, f.srv.Addr(), f.signer)
	if err != nil {
		t.Fatalf("ssh dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	exec := func(cmd string) (string, error) {
		t.Helper()
		session, err := client.NewSession()
		if err != nil {
			t.Fatalf("new session: %v", err)
		}
		defer func() { _ = session.Close() }()
		out, err := session.Output(cmd)
		return string(out), err
	}

	if out, err := exec("set editor vim"); err != nil || !strings.Contains(out, "Set editor = vim") {
		t.Fatalf("exec set: %q %v", out, err)
	}
	if out, err := exec("/get editor"); err != nil || !strings.Contains(out, "editor = vim") {
		t.Fatalf("exec get: %q %v", out, err)
	}

	_, err = exec("get missing")
	var exitErr *gossh.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError for missing key, got %v", err)
	}
	if exitErr.ExitStatus() != 1 {
		t.Fatalf("exit status: got %d, want 1", exitErr.ExitStatus())
	}

	value, found, err := f.svc.Retrieve("editor")
	if err != nil || !found || value != "vim" {
		t.Fatalf("Retrieve: %q %v %v", value, found, err)
	}
}

func TestSSHRejectsUnknownKey(t *testing.T) {
	f := startServer(t)
	stranger, _ := newClientKey(t)
	client, err := dial(t, f.srv.Addr(), stranger)
	if err == nil {
		_ = client.Close()
		t.Fatal("dial with an unauthorized key should fail")
	}
}

func TestNewServerRequiresHostKeyAndSettings(t *testing.T) {
	svc, err := settings.NewAccessor(memory.New(), "ssh-test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = svc.Close() }()
	if _, err := sshserver.NewServer("127.0.0.1:0", nil, svc, ""); err == nil {
		t.Error("nil host key should fail")
	}
	hk, err := hostkey.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sshserver.NewServer("127.0.0.1:0", hk, nil, ""); err == nil {
		t.Error("nil settings should fail")
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	tmpDir := t.TempDir()
	hk, err := hostkey.Load(tmpDir)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	svc, err := settings.NewAccessor(memory.New(), "cancel-test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = svc.Close() }()

	srv, err := sshserver.NewServer("127.0.0.1:0", hk, svc, filepath.Join(tmpDir, "authorized_keys"))
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if srv.Addr() == "" {
		t.Fatal("Addr should be set after Listen")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx)
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	srv.Stop()
}

func TestServeBeforeListen(t *testing.T) {
	hk, err := hostkey.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc, err := settings.NewAccessor(memory.New(), "early-test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = svc.Close() }()
	srv, err := sshserver.NewServer("127.0.0.1:0", hk, svc, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Serve(context.Background()); err == nil {
		t.Fatal("Serve before Listen should fail")
	}
}

func TestCommandRegistryFreezesAfterListen(t *testing.T) {
	tmpDir := t.TempDir()
	hk, err := hostkey.Load(tmpDir)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	svc, err := settings.NewAccessor(memory.New(), "freeze-test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = svc.Close() }()

	srv, err := sshserver.NewServer("127.0.0.1:0", hk, svc, filepath.Join(tmpDir, "authorized_keys"))
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	srv.Commands().Register("/custom", sshserver.Command{
		Help:    "custom command",
		Handler: func(*sshserver.CommandContext) bool { return false },
	})

	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Stop()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic when registering after Listen")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "frozen") {
			t.Errorf("unexpected panic value: %v", r)
		}
	}()
	srv.Commands().Register("/toobad", sshserver.Command{
		Help:    "should panic",
		Handler: func(*sshserver.CommandContext) bool { return false },
	})
}
