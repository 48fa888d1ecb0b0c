package tracker

// Rollback strategies. Derived at insertion time from (tool, operation) by a
// static decision table; the rollback engine executes the inverse later.
type Strategy string

const (
	StrategyDeletePath            Strategy = "delete_path"
	StrategyMoveBack              Strategy = "move_back"
	StrategyRestoreFromCheckpoint Strategy = "restore_from_checkpoint"
	StrategyUninstallPackage      Strategy = "uninstall_package"
	StrategyInstallPackage        Strategy = "install_package"
	StrategyGitReset              Strategy = "git_reset"
	StrategyServiceStart          Strategy = "service_start"
	StrategyServiceStop           Strategy = "service_stop"
	StrategyContainerStopRemove   Strategy = "container_stop_remove"
	StrategyNotRollbackable       Strategy = "not_rollbackable"
	StrategyManual                Strategy = "manual"
)

// deriveStrategy maps a completed (tool, operation) to its inverse plan.
// hasCheckpoint reports whether the open transaction has a checkpoint backing
// the given path; write_file/delete_file are only reversible through one.
func deriveStrategy(tool, operation string, params, result map[string]any, hasCheckpoint func(path string) (string, bool)) (Strategy, map[string]any, bool) {
	str := func(m map[string]any, key string) string {
		if m == nil {
			return ""
		}
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}

	switch tool + "." + operation {
	case "FileOps.create_file":
		return StrategyDeletePath, map[string]any{"path": firstNonEmpty(str(result, "path"), str(params, "path"))}, true

	case "FileOps.copy_file":
		return StrategyDeletePath, map[string]any{"path": firstNonEmpty(str(result, "destination"), str(params, "destination"))}, true

	case "FileOps.move_file":
		return StrategyMoveBack, map[string]any{
			"source":      firstNonEmpty(str(result, "source"), str(params, "source")),
			"destination": firstNonEmpty(str(result, "destination"), str(params, "destination")),
		}, true

	case "FileOps.write_file", "FileOps.delete_file":
		path := str(params, "path")
		if name, ok := hasCheckpoint(path); ok {
			return StrategyRestoreFromCheckpoint, map[string]any{"checkpoint": name, "path": path}, true
		}
		return StrategyManual, nil, false

	case "PackageOps.install":
		return StrategyUninstallPackage, map[string]any{"package": str(params, "package")}, true

	case "PackageOps.uninstall":
		return StrategyInstallPackage, map[string]any{"package": str(params, "package")}, true

	case "GitOps.commit":
		return StrategyGitReset, map[string]any{"revision": "HEAD~1", "commit": str(result, "commit"), "cwd": str(params, "cwd")}, true

	case "GitOps.push":
		return StrategyNotRollbackable, nil, false

	case "ServiceOps.start":
		return StrategyServiceStop, map[string]any{"service": str(params, "service")}, true

	case "ServiceOps.stop":
		return StrategyServiceStart, map[string]any{"service": str(params, "service")}, true

	case "ContainerOps.run":
		return StrategyContainerStopRemove, map[string]any{"container_id": str(result, "container_id")}, true
	}

	return StrategyManual, nil, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
