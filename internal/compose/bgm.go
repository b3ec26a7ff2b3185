package compose

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// bgmExtensions are the audio types accepted from the music library.
var bgmExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
}

// SelectBGM picks the background music file for a composition. The "current"
// pointer copy wins when present; otherwise the first audio file from the
// library directory is used. Returns "" when no music is available.
func SelectBGM(currentPath, libraryDir string) string {
	if currentPath != "" {
		if stat, err := os.Stat(currentPath); err == nil && stat.Size() > 0 {
			return currentPath
		}
	}
	if libraryDir == "" {
		return ""
	}
	entries, err := os.ReadDir(libraryDir)
	if err != nil {
		return ""
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if bgmExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(libraryDir, names[0])
}
