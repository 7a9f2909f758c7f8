package session

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
)

const resolveCacheTTL = time.Minute

// baseArgs puts claude in print mode with line-delimited JSON output.
var baseArgs = []string{"-p", "--verbose", "--output-format", "stream-json"}

// plainEnv keeps claude's output free of colour and terminal control codes.
var plainEnv = []string{"TERM=dumb", "NO_COLOR=1"}

// Resolver locates the claude executable. Successful lookups are cached for a
// minute; misses are never cached so a fresh install is picked up at once.
type Resolver struct {
	command    string
	candidates []string
	cache      *cache.Cache
	lookPath   func(string) (string, error)
}

// NewResolver creates a Resolver for the given command name or path.
func NewResolver(command string) *Resolver {
	return &Resolver{
		command:    command,
		candidates: defaultCandidates(),
		cache:      cache.New(resolveCacheTTL, 2*resolveCacheTTL),
		lookPath:   exec.LookPath,
	}
}

func defaultCandidates() []string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".npm-global", "bin", "claude"),
			filepath.Join(home, ".local", "bin", "claude"),
		)
	}
	return append(candidates, "/usr/local/bin/claude")
}

// Command returns the configured command name.
func (r *Resolver) Command() string {
	return r.command
}

// Resolve returns the path to run. It searches PATH, then the common install
// locations, and finally falls back to the bare command so that a missing
// executable fails loudly at spawn time.
func (r *Resolver) Resolve() string {
	if cached, ok := r.cache.Get(r.command); ok {
		return cached.(string)
	}

	if found, err := r.lookPath(r.command); err == nil {
		r.cache.SetDefault(r.command, found)
		return found
	}

	for _, path := range r.candidates {
		if isExecutable(path) {
			r.cache.SetDefault(r.command, path)
			return path
		}
	}

	return r.command
}

// Forget drops the cached resolution, e.g. after the binary disappeared.
func (r *Resolver) Forget() {
	r.cache.Delete(r.command)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// buildArgs constructs the claude command line for one invocation.
func buildArgs(prompt, sessionID string, extra []string) []string {
	args := append([]string(nil), baseArgs...)

	if sessionID != "" {
		args = append(args, "--resume", sessionID)
	}

	args = append(args, extra...)

	// -- keeps a prompt that starts with a dash from being read as a flag.
	return append(args, "--", prompt)
}

func buildEnv() []string {
	return append(os.Environ(), plainEnv...)
}
