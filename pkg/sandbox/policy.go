package sandbox

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
)

// protectedNames are basenames that are never touched outside unsafe mode.
var protectedNames = []string{
	".env", ".npmrc", ".netrc", ".pypirc", ".git-credentials",
	"credentials", "credentials.json",
	"id_rsa", "id_rsa.pub", "id_ed25519", "id_ed25519.pub", "id_ecdsa",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "bun.lockb",
	"Cargo.lock", "Gemfile.lock", "poetry.lock", "composer.lock",
}

// protectedDirs are path components that make the whole subtree protected.
var protectedDirs = map[string]bool{
	".git":         true,
	".ssh":         true,
	".aws":         true,
	".gnupg":       true,
	"node_modules": true,
}

var protectedSuffixes = []string{".pem", ".key", ".p12", ".pfx", ".keystore"}

type commandRule struct {
	pattern *regexp.Regexp
	reason  string
}

var commandDenylist = []commandRule{
	{regexp.MustCompile(`\brm\s+(-\S+\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(-\S+\s+)*(/\*?|~/?|\$HOME/?)(\s|;|&|\||$)`), "recursive deletion of root or home"},
	{regexp.MustCompile(`--no-preserve-root`), "recursive deletion of root"},
	{regexp.MustCompile(`\bmkfs(\.\w+)?\b`), "filesystem formatting"},
	{regexp.MustCompile(`\bdd\s+(.*\s)?if=`), "raw disk copy"},
	{regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|xvd|vd)[a-z0-9]*`), "raw disk write"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`), "system power control"},
	{regexp.MustCompile(`\binit\s+[06]\b`), "system power control"},
	{regexp.MustCompile(`\bchmod\s+(-\S+\s+)*-[a-zA-Z]*R[a-zA-Z]*\s+(0?777|a\+rwx)\s+/(\s|$)`), "world-writable root"},
	{regexp.MustCompile(`\bmv\s+.+\s+/`), "move into an absolute path"},
	{regexp.MustCompile(`(^|[;&|(]\s*)(env|printenv|export\s+-p|set)\s*($|[;&|>)])`), "environment dump"},
	{regexp.MustCompile(`/proc/\S*/environ`), "environment dump"},
	{regexp.MustCompile(`\b(cat|less|more|head|tail|base64|xxd|strings)\s+(\S+\s+)*\S*\.env\b`), "secret file dump"},
}

// Policy enforces the path sandbox, the protected-file denylist and the
// shell denylist. Unsafe mode disables all three checks.
type Policy struct {
	root   string
	unsafe atomic.Bool
}

// NewPolicy creates a policy rooted at root.
func NewPolicy(root string, unsafe bool) (*Policy, error) {
	if root == "" {
		return nil, ErrInvalidRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	p := &Policy{root: filepath.Clean(abs)}
	p.unsafe.Store(unsafe)
	return p, nil
}

// Root returns the absolute workspace root.
func (p *Policy) Root() string {
	return p.root
}

// Unsafe reports whether unsafe mode is on.
func (p *Policy) Unsafe() bool {
	return p.unsafe.Load()
}

// SetUnsafe toggles unsafe mode at runtime.
func (p *Policy) SetUnsafe(v bool) {
	p.unsafe.Store(v)
}

// ResolvePath resolves a tool path argument against the root and applies
// the path sandbox and protected-file checks. It never touches the filesystem.
func (p *Policy) ResolvePath(path string) (string, error) {
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, path)
	}
	if path == "" {
		path = "."
	}

	var full string
	if filepath.IsAbs(path) {
		full = filepath.Clean(path)
	} else {
		full = filepath.Clean(filepath.Join(p.root, path))
	}

	if p.Unsafe() {
		return full, nil
	}

	rel, err := filepath.Rel(p.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}

	if rel != "." && isProtected(rel) {
		return "", fmt.Errorf("%w: %s", ErrProtectedPath, path)
	}

	return full, nil
}

// Relative returns path relative to the root for display.
func (p *Policy) Relative(full string) string {
	rel, err := filepath.Rel(p.root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(rel)
}

// IsProtected reports whether a root-relative path matches the denylist.
func (p *Policy) IsProtected(rel string) bool {
	if p.Unsafe() {
		return false
	}
	return isProtected(rel)
}

// CheckCommand applies the shell denylist.
func (p *Policy) CheckCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return ErrEmptyCommand
	}
	if p.Unsafe() {
		return nil
	}
	for _, rule := range commandDenylist {
		if rule.pattern.MatchString(command) {
			return fmt.Errorf("%w (%s)", ErrCommandDenied, rule.reason)
		}
	}
	return nil
}

func isProtected(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts[:len(parts)-1] {
		if protectedDirs[part] {
			return true
		}
	}

	base := parts[len(parts)-1]
	if protectedDirs[base] {
		return true
	}
	for _, name := range protectedNames {
		if base == name {
			return true
		}
	}
	if strings.HasPrefix(base, ".env.") {
		return true
	}
	if strings.HasPrefix(base, "service-account") && strings.HasSuffix(base, ".json") {
		return true
	}
	for _, suffix := range protectedSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}
