package safemode

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultExitCode is the status a reset exits with when ExitCode is zero. It
// must be non-zero so a Restart=on-failure unit brings the daemon back.
const DefaultExitCode = 75

// BootResetter leaves a marker for the boot scripts to pick the recovery
// path, then runs the reset command and exits.
type BootResetter struct {
	MarkerPath string
	Command    []string
	ExitCode   int

	// PreReset runs before anything else. The daemon uses it to drop the
	// relay, since exiting skips the deferred board shutdown.
	PreReset func()

	// exit is replaced in tests.
	exit func(int)
}

func (b *BootResetter) ResetToSafeMode() {
	log.Warn().Str("marker", b.MarkerPath).Msg("resetting into safe mode")

	if b.PreReset != nil {
		b.PreReset()
	}
	if b.MarkerPath != "" {
		if err := os.MkdirAll(filepath.Dir(b.MarkerPath), 0o755); err != nil {
			log.Error().Err(err).Str("path", b.MarkerPath).Msg("creating safe mode marker dir")
		}
		stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
		if err := os.WriteFile(b.MarkerPath, stamp, 0o644); err != nil {
			log.Error().Err(err).Str("path", b.MarkerPath).Msg("writing safe mode marker")
		}
	}
	if len(b.Command) > 0 {
		cmd := exec.Command(b.Command[0], b.Command[1:]...)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		if err := cmd.Run(); err != nil {
			log.Error().Err(err).Strs("command", b.Command).Msg("reset command failed")
		}
	}

	code := b.ExitCode
	if code == 0 {
		code = DefaultExitCode
	}
	exit := b.exit
	if exit == nil {
		exit = os.Exit
	}
	exit(code)
}

// Pending reports whether a previous reset left its marker at path. The
// marker stays until an operator removes it.
func Pending(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
