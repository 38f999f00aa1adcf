package engine

import (
	"path"
	"strings"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// MatchesApp reports whether a live process is covered by an app rule.
// Matching is staged: exact normalized path, then executable basename,
// then process name against the rule's app name. First stage that
// matches wins; callers kill a process at most once per cycle.
func MatchesApp(rule domain.AppRule, proc domain.ProcessInfo) bool {
	rulePath := normalizePath(rule.AppPath)
	procPath := normalizePath(proc.Path)

	if rulePath != "" && procPath != "" && rulePath == procPath {
		return true
	}

	ruleExe := baseName(rulePath)
	procExe := baseName(procPath)
	if ruleExe != "" && procExe != "" && ruleExe == procExe {
		return true
	}

	ruleName := stripExt(strings.ToLower(rule.AppName))
	procName := stripExt(strings.ToLower(proc.Name))
	return ruleName != "" && procName != "" && ruleName == procName
}

// normalizePath lowercases and converts Windows separators so paths
// from rules and the inspector compare equal.
func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

func baseName(normalized string) string {
	if normalized == "" {
		return ""
	}
	return stripExt(path.Base(normalized))
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, ".exe")
}
