package control

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestResponseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "rollmgr.socket")

	ln, err := ListenUnix(sock)
	require.NoError(t, err)

	srv := NewServer(ln, func(cmd, data string) (int, string) {
		if cmd == CmdStatus {
			return RCOkay, "boot-time: x\nrollrec file: y\nevent method: z"
		}
		return RCBadZone, "unknown zone"
	})
	defer srv.Close()

	done := make(chan error, 1)
	go func() { done <- srv.PollOnce() }()

	client := NewClient("unix", sock)
	code, msg, err := client.Send(CmdStatus, "")
	require.NoError(t, err)
	assert.Equal(t, RCOkay, code)
	// Multi-line status blocks must survive the wire intact (scenario 5).
	assert.Equal(t, "boot-time: x\nrollrec file: y\nevent method: z", msg)

	require.NoError(t, <-done)
}

func TestGroupCommandPrefix(t *testing.T) {
	verb, isGroup := SplitGroup("g-rollcmd_rollksk")
	assert.True(t, isGroup)
	assert.Equal(t, CmdRollKSK, verb)
	assert.True(t, GroupAllowed[verb])

	verb, isGroup = SplitGroup(CmdStatus)
	assert.False(t, isGroup)
	assert.Equal(t, CmdStatus, verb)
}

func TestPIDFileSingleInstanceGuard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollerd.pid")

	p1, err := AcquirePIDFile(path)
	require.NoError(t, err)

	_, err = AcquirePIDFile(path)
	assert.Error(t, err)

	require.NoError(t, p1.Release())

	p2, err := AcquirePIDFile(path)
	require.NoError(t, err)
	require.NoError(t, p2.Release())
}
