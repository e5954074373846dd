package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/ItsRyan504/Slush-Bot/slushbot"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := slushbot.Version
	originalCommitSHA := slushbot.CommitSHA
	originalBuildTime := slushbot.BuildTime

	t.Cleanup(
		func() {
			slushbot.Version = originalVersion
			slushbot.CommitSHA = originalCommitSHA
			slushbot.BuildTime = originalBuildTime
		},
	)

	slushbot.Version = "1.0.0"
	slushbot.CommitSHA = "abc123"
	slushbot.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		slushbot.Version,
		slushbot.CommitSHA,
		slushbot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
