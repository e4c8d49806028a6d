package agentloop

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coderelay/coderelay/protocol"
)

// maxCustomPromptBytes bounds how large a discovered prompt file may be.
const maxCustomPromptBytes = 256 * 1024

// DiscoverCustomPrompts scans dir for markdown prompt files. A missing or
// unreadable directory yields an empty list; individual unreadable files are
// skipped. Results are sorted by name.
func DiscoverCustomPrompts(dir string) []protocol.CustomPrompt {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var prompts []protocol.CustomPrompt
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() > maxCustomPromptBytes {
			continue
		}
		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		prompts = append(prompts, protocol.CustomPrompt{
			Name:    strings.TrimSuffix(e.Name(), ".md"),
			Path:    path,
			Content: string(content),
		})
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts
}

// skillManifest is the file that marks a directory as a skill.
const skillManifest = "SKILL.md"

// DiscoverSkills scans dir for skill directories: subdirectories containing a
// SKILL.md manifest. The skill name is the directory name; the description is
// the manifest's first non-heading line. Results are sorted by name.
func DiscoverSkills(dir string) []protocol.SkillMeta {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var skills []protocol.SkillMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), skillManifest)
		info, err := os.Stat(path)
		if err != nil || info.Size() > maxCustomPromptBytes {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		skills = append(skills, protocol.SkillMeta{
			Name:        e.Name(),
			Description: skillDescription(string(content)),
			Path:        path,
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

func skillDescription(manifest string) string {
	for _, line := range strings.Split(manifest, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}
