package compilerexec

import (
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecCommand builds the classic os/exec self-test helper: it
// re-invokes the test binary with a marker environment variable so
// TestHelperProcess below does the actual "compiling".
func fakeExecCommand(exitCode int, stdout, stderr string) func(string, ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		cs := []string{"-test.run=TestHelperProcess", "--"}
		cs = append(cs, name)
		cs = append(cs, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("HELPER_EXIT_CODE=%d", exitCode),
			"HELPER_STDOUT=" + stdout,
			"HELPER_STDERR=" + stderr,
		}
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("HELPER_STDOUT"))
	fmt.Fprint(os.Stderr, os.Getenv("HELPER_STDERR"))
	code := 0
	fmt.Sscanf(os.Getenv("HELPER_EXIT_CODE"), "%d", &code)
	os.Exit(code)
}

func TestRunnerCompileSuccess(t *testing.T) {
	r := &Runner{execCommand: fakeExecCommand(0, "built ok", "")}
	res, err := r.Compile("cc", []string{"-c", "a.c"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "built ok", string(res.Stdout))
}

func TestRunnerCompileNonZeroExit(t *testing.T) {
	r := &Runner{execCommand: fakeExecCommand(1, "", "error: bad token")}
	res, err := r.Compile("cc", []string{"-c", "a.c"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, string(res.Stderr), "bad token")
}

func TestRunnerPreprocessAppendsDashE(t *testing.T) {
	r := &Runner{execCommand: fakeExecCommand(0, "preprocessed", "")}
	res, err := r.Preprocess("cc", []string{"-c", "a.c"})
	require.NoError(t, err)
	assert.Equal(t, "preprocessed", string(res.Stdout))
}

func TestRunnerGenerateDeps(t *testing.T) {
	r := &Runner{execCommand: fakeExecCommand(0, "", "")}
	res, err := r.GenerateDeps("cc", []string{"a.c"}, "a.d")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}
