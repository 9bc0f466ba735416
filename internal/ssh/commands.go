package ssh

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"settingsd/internal/settings"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Out      io.Writer
	Settings settings.Catalog
	User     string
	Args     []string // whitespace-split arguments
	Raw      string   // everything after the command name, leading space trimmed

	failed bool
}

// Printf writes one line of output.
func (c *CommandContext) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.Out, format+"\n", args...)
}

// Fail writes an error line and marks the command as failed, which becomes
// a non-zero exit status for exec requests.
func (c *CommandContext) Fail(format string, args ...any) {
	c.failed = true
	c.Printf(format, args...)
}

// CommandHandler processes a console command. Returns true if the session
// should be closed (e.g., /quit).
type CommandHandler func(ctx *CommandContext) bool

// Command describes a registered console command.
type Command struct {
	Usage   string // full usage for help (e.g., "/get <key>"); defaults to command name
	Help    string
	Handler CommandHandler
}

// CommandRegistrar is the interface for registering commands before the server starts.
type CommandRegistrar interface {
	Register(name string, cmd Command)
}

// CommandRegistry maps command names to handlers and produces dynamic help.
// It is safe for concurrent use by multiple SSH sessions.
// Once frozen (via Freeze), no new commands can be registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // insertion order for stable help output
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the registry. The name should include the leading
// slash (e.g., "/quit"). Registering the same name twice overwrites the previous entry.
// Panics if cmd.Handler is nil or if the registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("ssh: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("ssh: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further command registration.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler.
// quit reports whether the session should close; ok is false when the
// command is unknown or failed.
func (r *CommandRegistry) Dispatch(line string, out io.Writer, svc settings.Catalog, user string) (quit, ok bool) {
	line = strings.TrimSpace(line)
	name, raw := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		name, raw = line[:i], line[i+1:]
	}
	if name == "" {
		return false, true
	}

	r.mu.RLock()
	cmd, found := r.commands[name]
	r.mu.RUnlock()

	if !found {
		_, _ = fmt.Fprintf(out, "Unknown command: %s (try /help)\n", name)
		return false, false
	}

	raw = strings.TrimLeft(raw, " \t")
	ctx := &CommandContext{
		Out:      out,
		Settings: svc,
		User:     user,
		Args:     strings.Fields(raw),
		Raw:      raw,
	}
	quit = cmd.Handler(ctx)
	return quit, !ctx.failed
}

// HelpText returns a formatted help string listing all registered commands
// in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-22s %s\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers the settings commands plus /help and /quit.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/get", Command{
		Usage:   "/get <key>",
		Help:    "show a setting",
		Handler: handleGet,
	})
	r.Register("/set", Command{
		Usage:   "/set <key> <value...>",
		Help:    "store a setting (value is the rest of the line)",
		Handler: handleSet,
	})
	r.Register("/del", Command{
		Usage:   "/del <key>",
		Help:    "remove a setting",
		Handler: handleDel,
	})
	r.Register("/list", Command{
		Help:    "list all settings",
		Handler: handleList,
	})
	r.Register("/quit", Command{
		Help: "disconnect",
		Handler: func(ctx *CommandContext) bool {
			ctx.Printf("Goodbye.")
			return true
		},
	})
	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx *CommandContext) bool {
			_, _ = fmt.Fprint(ctx.Out, r.HelpText())
			return false
		},
	})
}

func handleGet(ctx *CommandContext) bool {
	if len(ctx.Args) != 1 {
		ctx.Fail("Usage: /get <key>")
		return false
	}
	key := ctx.Args[0]
	value, ok, err := ctx.Settings.Retrieve(key)
	switch {
	case err != nil:
		ctx.Fail("Error: %v", err)
	case !ok:
		ctx.Fail("%s: not set", key)
	default:
		ctx.Printf("%s = %s", key, value)
	}
	return false
}

func handleSet(ctx *CommandContext) bool {
	if len(ctx.Args) < 1 {
		ctx.Fail("Usage: /set <key> <value...>")
		return false
	}
	key := ctx.Args[0]
	value := strings.TrimLeft(strings.TrimPrefix(ctx.Raw, key), " \t")
	if err := ctx.Settings.Store(key, value); err != nil {
		ctx.Fail("Error: %v", err)
		return false
	}
	sshlog.Info("setting stored", "user", ctx.User, "key", key)
	ctx.Printf("Set %s = %s", key, value)
	return false
}

func handleDel(ctx *CommandContext) bool {
	if len(ctx.Args) != 1 {
		ctx.Fail("Usage: /del <key>")
		return false
	}
	key := ctx.Args[0]
	if err := ctx.Settings.Remove(key); err != nil {
		ctx.Fail("Error: %v", err)
		return false
	}
	sshlog.Info("setting removed", "user", ctx.User, "key", key)
	ctx.Printf("Removed %s", key)
	return false
}

func handleList(ctx *CommandContext) bool {
	list, err := ctx.Settings.List()
	if err != nil {
		ctx.Fail("Error: %v", err)
		return false
	}
	if len(list) == 0 {
		ctx.Printf("Settings: (empty)")
		return false
	}
	ctx.Printf("Settings (%d):", len(list))
	for _, s := range list {
		ctx.Printf("  %-20s = %s", s.Key, s.Value)
	}
	return false
}
