package process_runner

import (
	"os"
	"sort"
	"strings"
)

// ForbiddenEnvironmentVariables describe the host machine and are stripped
// from default user environments before they reach a container.
var ForbiddenEnvironmentVariables = []string{
	"COMPUTERNAME",
	"ALLUSERSPROFILE",
	"FP_NO_HOST_CHECK",
	"GOPATH",
	"NUMBER_OF_PROCESSORS",
	"OS",
	"PATHEXT",
	"PROCESSOR_ARCHITECTURE",
	"PROCESSOR_IDENTIFIER",
	"PROCESSOR_LEVEL",
	"PROCESSOR_REVISION",
	"PSModulePath",
	"PUBLIC",
	"SystemDrive",
	"USERDOMAIN",
	"VS110COMNTOOLS",
	"VS120COMNTOOLS",
	"WIX",
}

// MergeEnvironment overlays each map onto the previous ones. Names compare
// case-insensitively; the spelling of the last writer is kept.
func MergeEnvironment(environments ...map[string]string) map[string]string {
	merged := map[string]string{}
	names := map[string]string{}

	for _, env := range environments {
		for name, value := range env {
			key := strings.ToUpper(name)

			if previous, found := names[key]; found {
				delete(merged, previous)
			}

			names[key] = name
			merged[name] = value
		}
	}

	return merged
}

func RemoveForbidden(env map[string]string) map[string]string {
	forbidden := map[string]bool{}
	for _, name := range ForbiddenEnvironmentVariables {
		forbidden[strings.ToUpper(name)] = true
	}

	filtered := map[string]string{}
	for name, value := range env {
		if !forbidden[strings.ToUpper(name)] {
			filtered[name] = value
		}
	}

	return filtered
}

// ParseEnvironment reads NAME=value pairs. Windows keeps per-drive working
// directories in variables named like "=C:", which are skipped.
func ParseEnvironment(pairs []string) map[string]string {
	env := map[string]string{}

	for _, pair := range pairs {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			continue
		}

		env[pair[:idx]] = pair[idx+1:]
	}

	return env
}

// EnvironmentBlock renders env as sorted NAME=value pairs.
func EnvironmentBlock(env map[string]string) []string {
	block := make([]string, 0, len(env))
	for name, value := range env {
		block = append(block, name+"="+value)
	}

	sort.Strings(block)

	return block
}

func processEnvironment() map[string]string {
	return ParseEnvironment(os.Environ())
}
