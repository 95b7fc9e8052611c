package discovery

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
)

// binaryExts are never sent to a reviewer.
var binaryExts = map[string]bool{
	".bin": true, ".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true, ".o": true, ".obj": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true, ".svg": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wav": true,
	".ttf": true, ".woff": true, ".woff2": true, ".eot": true,
}

// unreviewable reports whether a file should be left out of every scope,
// and why. slashPath is relative to the walk root. When maxLines is
// positive, absPath is read to count lines.
func unreviewable(slashPath, absPath string, maxLines int) (bool, string) {
	base := path.Base(slashPath)

	// Generated files
	switch {
	case strings.HasSuffix(base, ".pb.go"):
		return true, "generated protobuf file"
	case strings.HasSuffix(base, ".gen.go"):
		return true, "generated code"
	case strings.Contains(base, "_generated."):
		return true, "generated file"
	}

	if slashPath == "third_party" || strings.HasPrefix(slashPath, "third_party/") || strings.Contains(slashPath, "/third_party/") {
		return true, "third-party code"
	}

	if binaryExts[strings.ToLower(path.Ext(base))] {
		return true, "binary/media file"
	}

	if maxLines > 0 {
		n, err := countLines(absPath, maxLines)
		if err != nil {
			return true, fmt.Sprintf("cannot read file: %v", err)
		}
		if n > maxLines {
			return true, fmt.Sprintf("too large (more than %d lines)", maxLines)
		}
	}
	return false, ""
}

// countLines counts lines up to limit+1 so huge files are not read fully.
func countLines(path string, limit int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		if n > limit {
			break
		}
	}
	return n, scanner.Err()
}
