// Package privexec runs installation and build subprocesses as the
// invoking user rather than the elevated account the orchestrator may
// have been started under. The target identity is explicit: callers
// resolve it once, usually from the sudo environment, and the wrapper
// refuses to run anything when no identity is given or the privilege
// drop cannot be arranged.
package privexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"unicode"
)

var (
	// ErrUnsafeArgument marks an argument rejected before spawn.
	ErrUnsafeArgument = errors.New("unsafe argument")

	// ErrPrivilegeDrop marks a run refused because the process cannot
	// become the target identity. Nothing is spawned in that case.
	ErrPrivilegeDrop = errors.New("privilege drop unavailable")
)

// Identity is the non-privileged user a wrapped command runs as.
type Identity struct {
	UID      uint32
	GID      uint32
	Username string
	Home     string
}

// InvokingIdentity resolves the user who actually invoked the program.
// Under sudo that is the SUDO_UID/SUDO_GID owner, not root; otherwise
// it is the current real user.
func InvokingIdentity() (Identity, error) {
	if uidStr := os.Getenv("SUDO_UID"); uidStr != "" {
		return sudoIdentity(uidStr, os.Getenv("SUDO_GID"), os.Getenv("SUDO_USER"))
	}
	return currentIdentity()
}

func sudoIdentity(uidStr, gidStr, username string) (Identity, error) {
	uid, err := strconv.ParseUint(uidStr, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid SUDO_UID %q: %w", uidStr, err)
	}
	gid, err := strconv.ParseUint(gidStr, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid SUDO_GID %q: %w", gidStr, err)
	}

	id := Identity{UID: uint32(uid), GID: uint32(gid), Username: username}
	if u, lookupErr := user.LookupId(uidStr); lookupErr == nil {
		id.Home = u.HomeDir
		if id.Username == "" {
			id.Username = u.Username
		}
	}
	if id.Username == "" {
		return Identity{}, fmt.Errorf("cannot resolve sudo invoker for uid %s", uidStr)
	}
	return id, nil
}

func currentIdentity() (Identity, error) {
	u, err := user.Current()
	if err != nil {
		return Identity{}, fmt.Errorf("cannot resolve current user: %w", err)
	}
	return Identity{
		UID:      uint32(os.Getuid()),
		GID:      uint32(os.Getgid()),
		Username: u.Username,
		Home:     u.HomeDir,
	}, nil
}

// Wrapper spawns subprocesses under a fixed identity with a scrubbed
// environment. Arguments are sanitized before any fork happens.
type Wrapper struct {
	identity     Identity
	allowedRoots []string

	Stdout io.Writer
	Stderr io.Writer

	geteuid func() int
	runCmd  func(*exec.Cmd) error
}

// NewWrapper builds a wrapper for the given identity. Absolute path
// arguments are only accepted under the allowed roots; the identity's
// home directory is always an allowed root.
func NewWrapper(id Identity, allowedRoots ...string) (*Wrapper, error) {
	if id.Username == "" {
		return nil, errors.New("target identity is required")
	}
	roots := make([]string, 0, len(allowedRoots)+1)
	if id.Home != "" {
		roots = append(roots, filepath.Clean(id.Home))
	}
	for _, root := range allowedRoots {
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("allowed root %q is not absolute", root)
		}
		roots = append(roots, filepath.Clean(root))
	}
	return &Wrapper{
		identity:     id,
		allowedRoots: roots,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		geteuid:      os.Geteuid,
		runCmd:       (*exec.Cmd).Run,
	}, nil
}

// Identity returns the identity commands run as.
func (w *Wrapper) Identity() Identity {
	return w.identity
}

// shellMetacharacters are rejected in every argument. The wrapper
// never invokes a shell itself, but the build tooling it launches
// frequently does.
const shellMetacharacters = "`$|&;<>(){}[]*?!~#\"'\\"

// SanitizeArgs rejects arguments carrying shell metacharacters,
// control characters, or paths that escape the allowed roots.
func (w *Wrapper) SanitizeArgs(args []string) error {
	for _, arg := range args {
		if arg == "" {
			return fmt.Errorf("%w: empty argument", ErrUnsafeArgument)
		}
		if i := strings.IndexAny(arg, shellMetacharacters); i >= 0 {
			return fmt.Errorf("%w: %q contains %q", ErrUnsafeArgument, arg, arg[i])
		}
		for _, r := range arg {
			if unicode.IsControl(r) {
				return fmt.Errorf("%w: %q contains a control character", ErrUnsafeArgument, arg)
			}
		}
		if err := w.checkPath(arg); err != nil {
			return err
		}
	}
	return nil
}

// checkPath applies the lexical traversal rules to an argument. Flag
// arguments of the form --name=value have the value checked too.
func (w *Wrapper) checkPath(arg string) error {
	candidates := []string{arg}
	if _, value, found := strings.Cut(arg, "="); found && value != "" {
		candidates = append(candidates, value)
	}
	for _, candidate := range candidates {
		if !strings.Contains(candidate, "/") && !strings.HasPrefix(candidate, ".") {
			continue
		}
		clean := filepath.Clean(candidate)
		if clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("%w: %q climbs out of its directory", ErrUnsafeArgument, arg)
		}
		if filepath.IsAbs(clean) && !w.underAllowedRoot(clean) {
			return fmt.Errorf("%w: %q is outside the allowed roots", ErrUnsafeArgument, arg)
		}
	}
	return nil
}

func (w *Wrapper) underAllowedRoot(path string) bool {
	for _, root := range w.allowedRoots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}

// isBareCommand reports whether name is a plain command word to be
// resolved through PATH.
func isBareCommand(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '+' || r == '-':
		default:
			return false
		}
	}
	return name != ""
}

// Run sanitizes the command and its arguments, arranges the privilege
// drop, and only then spawns. The drop applies to the whole process
// subtree, so descendants never see the elevated identity either.
func (w *Wrapper) Run(ctx context.Context, name string, args ...string) error {
	if !isBareCommand(name) {
		if !filepath.IsAbs(name) || !w.underAllowedRoot(filepath.Clean(name)) {
			return fmt.Errorf("%w: program %q must be a bare command or an absolute path under an allowed root", ErrUnsafeArgument, name)
		}
	}
	if err := w.SanitizeArgs(args); err != nil {
		return err
	}

	cred, err := credentialFor(w.geteuid(), w.identity)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = w.environment()
	cmd.Stdout = w.Stdout
	cmd.Stderr = w.Stderr
	if w.identity.Home != "" {
		cmd.Dir = w.identity.Home
	}
	if cred != nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}

	if err := w.runCmd(cmd); err != nil {
		return fmt.Errorf("command %s failed: %w", name, err)
	}
	return nil
}

// credentialFor decides how to reach the target identity from the
// current effective uid. Already being the target needs no credential;
// root can drop; anything else must refuse before spawning.
func credentialFor(euid int, id Identity) (*syscall.Credential, error) {
	if euid == int(id.UID) {
		return nil, nil
	}
	if euid != 0 {
		return nil, fmt.Errorf("%w: running as uid %d, cannot become uid %d", ErrPrivilegeDrop, euid, id.UID)
	}
	return &syscall.Credential{
		Uid: id.UID,
		Gid: id.GID,
		// An empty list clears supplementary groups, so the child
		// keeps nothing of the elevated group either.
		Groups: []uint32{},
	}, nil
}

// passthroughEnv lists the variables copied from the parent
// environment. Everything else, credentials included, is dropped.
var passthroughEnv = []string{
	"LANG", "LC_ALL", "TZ", "TERM",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
	"http_proxy", "https_proxy", "no_proxy",
}

func (w *Wrapper) environment() []string {
	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"USER=" + w.identity.Username,
		"LOGNAME=" + w.identity.Username,
	}
	if w.identity.Home != "" {
		env = append(env, "HOME="+w.identity.Home)
	}
	for _, name := range passthroughEnv {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}
