package risk

import (
	"os"
	"path/filepath"
	"sync/atomic"
)

// KillSwitch is the process-wide pause flag. It can be flipped in-process
// (admin command) or out-of-band by dropping a sentinel file next to the
// service; the file is checked on every read so an operator's `touch` takes
// effect on the very next admission.
type KillSwitch struct {
	engaged      atomic.Bool
	sentinelPath string
}

func NewKillSwitch(sentinelPath string) *KillSwitch {
	return &KillSwitch{sentinelPath: sentinelPath}
}

// Engaged reports whether trading is paused.
func (k *KillSwitch) Engaged() bool {
	if k.engaged.Load() {
		return true
	}
	if k.sentinelPath != "" {
		if _, err := os.Stat(k.sentinelPath); err == nil {
			return true
		}
	}
	return false
}

// Engage pauses trading in-process and, when a sentinel path is configured,
// persists the pause so it survives a restart.
func (k *KillSwitch) Engage() error {
	k.engaged.Store(true)
	if k.sentinelPath == "" {
		return nil
	}
	if dir := filepath.Dir(k.sentinelPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(k.sentinelPath, []byte("paused\n"), 0o644)
}

// Release resumes trading and removes the sentinel file if present.
func (k *KillSwitch) Release() error {
	k.engaged.Store(false)
	if k.sentinelPath == "" {
		return nil
	}
	if err := os.Remove(k.sentinelPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
