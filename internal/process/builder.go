package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/randomizedcoder/go-spawn-sync/internal/config"
	"github.com/randomizedcoder/go-spawn-sync/internal/supervisor"
)

// Builder implements Runner from a config.Config.
type Builder struct {
	cfg *config.Config

	// Replaceable for tests.
	lookPath func(string) (string, error)
	readFile func(string) ([]byte, error)

	once    sync.Once
	path    string
	stdin   []byte
	initErr error
}

// NewBuilder creates a Builder. The executable and stdin file are resolved
// lazily, once, on the first BuildRequest.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		cfg:      cfg,
		lookPath: exec.LookPath,
		readFile: os.ReadFile,
	}
}

// Name returns the base name of the executable.
func (b *Builder) Name() string {
	return filepath.Base(b.cfg.Path)
}

// Resolve returns the absolute executable path. Names without a slash are
// looked up in PATH, the way a shell would.
func (b *Builder) Resolve() (string, error) {
	b.init()
	return b.path, b.initErr
}

func (b *Builder) init() {
	b.once.Do(func() {
		path := b.cfg.Path
		if !strings.Contains(path, "/") {
			resolved, err := b.lookPath(path)
			if err != nil {
				b.initErr = fmt.Errorf("resolve %q: %w", path, err)
				return
			}
			path = resolved
		}
		b.path = path

		switch {
		case b.cfg.StdinFile != "":
			data, err := b.readFile(b.cfg.StdinFile)
			if err != nil {
				b.initErr = fmt.Errorf("read stdin file: %w", err)
				return
			}
			b.stdin = data
		case b.cfg.Stdin != "":
			b.stdin = []byte(b.cfg.Stdin)
		}
	})
}

// BuildRequest returns a request for one run. Stdin is shared between runs
// since Run never writes to it; capture buffers are allocated per call.
func (b *Builder) BuildRequest(run int) (supervisor.Request, error) {
	b.init()
	if b.initErr != nil {
		return supervisor.Request{}, b.initErr
	}

	sig, err := config.ParseSignal(b.cfg.KillSignal)
	if err != nil {
		return supervisor.Request{}, err
	}

	args := b.cfg.Args
	if len(args) == 0 {
		args = []string{b.cfg.Path}
	}

	return supervisor.Request{
		File:            b.path,
		Args:            args,
		Dir:             b.cfg.Dir,
		Env:             b.env(),
		Timeout:         b.cfg.Timeout,
		CombineStderr:   b.cfg.Combine,
		Stdin:           b.stdin,
		Stdout:          captureBuffer(b.cfg.StdoutCap),
		Stderr:          captureBuffer(b.cfg.StderrCap),
		KillSignal:      sig,
		NewProcessGroup: b.cfg.NewProcessGroup,
	}, nil
}

// env returns nil to inherit the parent's environment unchanged.
func (b *Builder) env() []string {
	if b.cfg.ClearEnv {
		return append([]string{}, b.cfg.Env...)
	}
	if len(b.cfg.Env) == 0 {
		return nil
	}
	return append(os.Environ(), b.cfg.Env...)
}

// captureBuffer maps a configured capacity to a buffer; config.Discard gives nil.
func captureBuffer(capacity int) []byte {
	if capacity < 0 {
		return nil
	}
	return make([]byte, capacity)
}

// CommandString returns the command as a copy-pasteable shell line.
func (b *Builder) CommandString() string {
	args := b.cfg.Args
	if len(args) == 0 {
		args = []string{b.cfg.Path}
	}
	parts := make([]string, 0, len(args)+len(b.cfg.Env)+1)
	if b.cfg.ClearEnv {
		parts = append(parts, "env", "-i")
	}
	for _, kv := range b.cfg.Env {
		parts = append(parts, shellQuote(kv))
	}
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes s when it contains anything a shell would interpret.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
