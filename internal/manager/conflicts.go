package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/branchline/wtm/internal/models"
	"github.com/branchline/wtm/internal/store"
)

// DetectConflicts dry-run merges the agent's branch into targetBranch
// and returns the files that would conflict, empty when the merge is
// clean. Nothing is mutated: no working directory, no index, no
// registry state.
func (m *Manager) DetectConflicts(ctx context.Context, agentID, targetBranch string) ([]models.ConflictFile, error) {
	rec, err := m.store.GetWorktree(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}

	m.ui.VerboseLog("git merge-tree %s %s", targetBranch, rec.Branch)
	result, err := m.git.MergeTree(targetBranch, rec.Branch)
	if err != nil {
		return nil, err
	}

	if result.ExitCode == 0 && !strings.Contains(strings.ToLower(result.Report), "conflict") {
		return nil, nil
	}
	return parseMergeReport(result.Report), nil
}

// parseMergeReport scans a merge-tree report for conflicted files. It
// is a heuristic line scan, isolated here so the phrasing it matches
// can change without touching the manager. Two report dialects are
// recognized:
//
// Classic three-way stanzas:
//
//	changed in both
//	  base   100644 2f8d1e6 docs/plan.md
//	  our    100644 4de54c6 docs/plan.md
//	  their  100644 8f2b9aa docs/plan.md
//
// Modern (git >= 2.38) conflicted-file info plus messages:
//
//	100644 4de54c6... 2	docs/plan.md
//	CONFLICT (content): Merge conflict in docs/plan.md
//
// Lines matching neither dialect are ignored.
func parseMergeReport(report string) []models.ConflictFile {
	byPath := make(map[string]*models.ConflictFile)
	var order []string

	record := func(path string) *models.ConflictFile {
		if cf, ok := byPath[path]; ok {
			return cf
		}
		cf := &models.ConflictFile{Path: path, ConflictType: models.ConflictContent}
		byPath[path] = cf
		order = append(order, path)
		return cf
	}

	lines := strings.Split(report, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "changed in both"):
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				// Path inline: "changed in both <path>"
				record(fields[len(fields)-1])
				continue
			}
			// Bare stanza header: path and hashes follow on indented
			// base/our/their lines.
			for i+1 < len(lines) {
				label, hash, path, ok := parseVersionLine(lines[i+1])
				if !ok {
					break
				}
				i++
				cf := record(path)
				switch label {
				case "base":
					cf.BaseVersion = hash
				case "our":
					cf.OurVersion = hash
				case "their":
					cf.TheirVersion = hash
				}
			}

		case strings.HasPrefix(line, "CONFLICT ("):
			kind, path, ok := parseConflictMessage(line)
			if !ok {
				continue
			}
			cf := record(path)
			cf.ConflictType = kind

		case strings.ContainsRune(line, '\t'):
			// Conflicted file info: "<mode> <oid> <stage>\t<path>"
			hash, stage, path, ok := parseStageLine(line)
			if !ok {
				continue
			}
			cf := record(path)
			switch stage {
			case "1":
				cf.BaseVersion = hash
			case "2":
				cf.OurVersion = hash
			case "3":
				cf.TheirVersion = hash
			}
		}
	}

	conflicts := make([]models.ConflictFile, 0, len(order))
	for _, path := range order {
		conflicts = append(conflicts, *byPath[path])
	}
	return conflicts
}

// parseVersionLine parses an indented classic stanza line like
// "  our    100644 4de54c6 docs/plan.md".
func parseVersionLine(line string) (label, hash, path string, ok bool) {
	if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
		return "", "", "", false
	}
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return "", "", "", false
	}
	switch fields[0] {
	case "base", "our", "their":
		return fields[0], fields[2], strings.Join(fields[3:], " "), true
	}
	return "", "", "", false
}

// parseStageLine parses modern conflicted-file info:
// "100644 b51d1ae546cd... 2\tdocs/plan.md". Stage 1 is the merge base,
// 2 ours, 3 theirs.
func parseStageLine(line string) (hash, stage, path string, ok bool) {
	info, path, found := strings.Cut(line, "\t")
	if !found || path == "" {
		return "", "", "", false
	}
	fields := strings.Fields(info)
	if len(fields) != 3 {
		return "", "", "", false
	}
	stage = fields[2]
	if stage != "1" && stage != "2" && stage != "3" {
		return "", "", "", false
	}
	return fields[1], stage, path, true
}

// parseConflictMessage parses an informational message like
// "CONFLICT (content): Merge conflict in docs/plan.md" or
// "CONFLICT (modify/delete): docs/plan.md deleted in main and ...".
func parseConflictMessage(line string) (models.ConflictType, string, bool) {
	rest := strings.TrimPrefix(line, "CONFLICT (")
	kindStr, rest, found := strings.Cut(rest, "):")
	if !found {
		return "", "", false
	}
	rest = strings.TrimSpace(rest)

	kind := models.ConflictContent
	switch {
	case strings.Contains(kindStr, "delete"):
		kind = models.ConflictDelete
	case strings.Contains(kindStr, "rename"):
		kind = models.ConflictRename
	}

	if after, found := strings.CutPrefix(rest, "Merge conflict in "); found {
		return kind, after, true
	}
	// Other messages lead with the path: "<path> deleted in ..."
	path, _, _ := strings.Cut(rest, " ")
	if path == "" {
		return "", "", false
	}
	return kind, path, true
}
