package commoninfo

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ResolveIdentity implements the compiler_check policy switch: "none"
// (nothing), "mtime" (size+mtime), "string:X" (literal X), "content"
// (full content hash), or a bare shell command whose combined
// stdout/stderr is hashed.
func ResolveIdentity(policy, compilerPath string) (CompilerIdentity, error) {
	switch {
	case policy == "" || policy == "none":
		return CompilerIdentity{Policy: "none"}, nil
	case policy == "mtime":
		info, err := os.Stat(compilerPath)
		if err != nil {
			return CompilerIdentity{}, fmt.Errorf("commoninfo: stat compiler: %w", err)
		}
		b := []byte(strconv.FormatInt(info.Size(), 10) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10))
		return CompilerIdentity{Policy: "mtime", Bytes: b}, nil
	case strings.HasPrefix(policy, "string:"):
		return CompilerIdentity{Policy: "string", Bytes: []byte(strings.TrimPrefix(policy, "string:"))}, nil
	case policy == "content":
		b, err := os.ReadFile(compilerPath)
		if err != nil {
			return CompilerIdentity{}, fmt.Errorf("commoninfo: read compiler: %w", err)
		}
		return CompilerIdentity{Policy: "content", Bytes: b}, nil
	default:
		// Arbitrary shell command: its combined output is the identity.
		cmd := exec.Command("/bin/sh", "-c", policy)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return CompilerIdentity{}, fmt.Errorf("commoninfo: compiler_check command %q: %w", policy, err)
		}
		return CompilerIdentity{Policy: "command:" + policy, Bytes: out}, nil
	}
}
