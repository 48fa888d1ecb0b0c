package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"syscall"
	"time"

	"zenus/internal/sandbox"
)

// RegisterSystemOps wires the subprocess-backed tool families: ProcessOps,
// PackageOps, GitOps, ServiceOps, ContainerOps and NetworkOps. Everything
// here shells out through the sandbox so the per-operation deadline and
// path rules apply uniformly.
func RegisterSystemOps(r *Registry, sb *sandbox.Sandbox) {
	registerProcessOps(r, sb)
	registerPackageOps(r, sb)
	registerGitOps(r, sb)
	registerServiceOps(r, sb)
	registerContainerOps(r, sb)
	registerNetworkOps(r, sb)
}

func registerProcessOps(r *Registry, sb *sandbox.Sandbox) {
	r.MustRegister(&Operation{
		Tool: "ProcessOps", Action: "run",
		Description: "Run a shell command",
		Required:    []string{"command"},
		Effect:      EffectControl, Runtime: RuntimeSlow,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			command := stringArg(args, "command")
			cwd := stringArg(args, "cwd")
			out, err := sb.RunSubprocess(ctx, []string{"sh", "-c", command}, cwd, nil, 0)
			if err != nil {
				return map[string]any{"output": out}, err
			}
			return map[string]any{"output": out, "exit_code": 0}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "ProcessOps", Action: "list",
		Description: "List running processes",
		Effect:      EffectReadOnly, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := sb.RunSubprocess(ctx, []string{"ps", "-eo", "pid,comm"}, "", nil, 10*time.Second)
			if err != nil {
				return nil, err
			}
			lines := strings.Split(strings.TrimSpace(out), "\n")
			return map[string]any{"processes": lines, "count": len(lines) - 1}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "ProcessOps", Action: "kill",
		Description: "Terminate a process by pid",
		Required:    []string{"pid"},
		Effect:      EffectControl, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			pid, err := strconv.Atoi(stringArg(args, "pid"))
			if err != nil {
				return nil, fmt.Errorf("invalid pid: %v", args["pid"])
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return nil, fmt.Errorf("kill failed: %w", err)
			}
			return map[string]any{"pid": pid, "signal": "SIGTERM"}, nil
		},
	})
}

func registerPackageOps(r *Registry, sb *sandbox.Sandbox) {
	// pip is the package manager of record for this tool.
	r.MustRegister(&Operation{
		Tool: "PackageOps", Action: "install",
		Description: "Install a package",
		Required:    []string{"package"},
		Effect:      EffectCreate, Runtime: RuntimeSlow,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			pkg := stringArg(args, "package")
			out, err := sb.RunSubprocess(ctx, []string{"pip", "install", pkg}, "", nil, 0)
			if err != nil {
				return map[string]any{"output": out}, err
			}
			return map[string]any{"package": pkg, "installed": true}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "PackageOps", Action: "uninstall",
		Description: "Uninstall a package",
		Required:    []string{"package"},
		Effect:      EffectDelete, Runtime: RuntimeSlow,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			pkg := stringArg(args, "package")
			out, err := sb.RunSubprocess(ctx, []string{"pip", "uninstall", "-y", pkg}, "", nil, 0)
			if err != nil {
				return map[string]any{"output": out}, err
			}
			return map[string]any{"package": pkg, "uninstalled": true}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "PackageOps", Action: "list",
		Description: "List installed packages",
		Effect:      EffectReadOnly, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := sb.RunSubprocess(ctx, []string{"pip", "list", "--format", "freeze"}, "", nil, 60*time.Second)
			if err != nil {
				return nil, err
			}
			pkgs := strings.Split(strings.TrimSpace(out), "\n")
			return map[string]any{"packages": pkgs, "count": len(pkgs)}, nil
		},
	})
}

func registerGitOps(r *Registry, sb *sandbox.Sandbox) {
	gitRun := func(ctx context.Context, cwd string, gitArgs ...string) (string, error) {
		argv := append([]string{"git"}, gitArgs...)
		return sb.RunSubprocess(ctx, argv, cwd, nil, 60*time.Second)
	}

	r.MustRegister(&Operation{
		Tool: "GitOps", Action: "status",
		Description: "Show git working tree status",
		Effect:      EffectReadOnly, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := gitRun(ctx, stringArg(args, "cwd"), "status", "--short")
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": out}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "GitOps", Action: "commit",
		Description: "Commit staged changes",
		Required:    []string{"message"},
		Effect:      EffectCreate, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			cwd := stringArg(args, "cwd")
			if _, err := gitRun(ctx, cwd, "commit", "-m", stringArg(args, "message")); err != nil {
				return nil, err
			}
			// The commit hash backs the rollback strategy.
			hash, err := gitRun(ctx, cwd, "rev-parse", "HEAD")
			if err != nil {
				return nil, err
			}
			return map[string]any{"commit": strings.TrimSpace(hash)}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "GitOps", Action: "push",
		Description: "Push commits to the remote",
		Effect:      EffectControl, Runtime: RuntimeSlow,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := gitRun(ctx, stringArg(args, "cwd"), "push")
			if err != nil {
				return nil, err
			}
			return map[string]any{"output": out, "pushed": true}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "GitOps", Action: "reset",
		Description: "Reset HEAD to a revision",
		Required:    []string{"revision"},
		Effect:      EffectControl, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := gitRun(ctx, stringArg(args, "cwd"), "reset", "--soft", stringArg(args, "revision"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"output": out}, nil
		},
	})
}

func registerServiceOps(r *Registry, sb *sandbox.Sandbox) {
	systemctl := func(ctx context.Context, verb, service string) (string, error) {
		return sb.RunSubprocess(ctx, []string{"systemctl", "--user", verb, service}, "", nil, 30*time.Second)
	}

	for _, verb := range []string{"start", "stop"} {
		verb := verb
		r.MustRegister(&Operation{
			Tool: "ServiceOps", Action: verb,
			Description: fmt.Sprintf("%s a service", verb),
			Required:    []string{"service"},
			Effect:      EffectControl, Runtime: RuntimeIO,
			Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				service := stringArg(args, "service")
				if _, err := systemctl(ctx, verb, service); err != nil {
					return nil, err
				}
				return map[string]any{"service": service, "action": verb}, nil
			},
		})
	}

	r.MustRegister(&Operation{
		Tool: "ServiceOps", Action: "status",
		Description: "Query a service's status",
		Required:    []string{"service"},
		Effect:      EffectReadOnly, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, _ := systemctl(ctx, "is-active", stringArg(args, "service"))
			return map[string]any{"service": stringArg(args, "service"), "state": strings.TrimSpace(out)}, nil
		},
	})
}

func registerContainerOps(r *Registry, sb *sandbox.Sandbox) {
	docker := func(ctx context.Context, dockerArgs ...string) (string, error) {
		argv := append([]string{"docker"}, dockerArgs...)
		return sb.RunSubprocess(ctx, argv, "", nil, 120*time.Second)
	}

	r.MustRegister(&Operation{
		Tool: "ContainerOps", Action: "run",
		Description: "Run a container detached",
		Required:    []string{"image"},
		Effect:      EffectControl, Runtime: RuntimeSlow,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := docker(ctx, "run", "-d", stringArg(args, "image"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"container_id": strings.TrimSpace(out)}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "ContainerOps", Action: "stop",
		Description: "Stop a container",
		Required:    []string{"container_id"},
		Effect:      EffectControl, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id := stringArg(args, "container_id")
			if _, err := docker(ctx, "stop", id); err != nil {
				return nil, err
			}
			return map[string]any{"container_id": id, "stopped": true}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "ContainerOps", Action: "remove",
		Description: "Remove a container",
		Required:    []string{"container_id"},
		Effect:      EffectDelete, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id := stringArg(args, "container_id")
			if _, err := docker(ctx, "rm", id); err != nil {
				return nil, err
			}
			return map[string]any{"container_id": id, "removed": true}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "ContainerOps", Action: "list",
		Description: "List running containers",
		Effect:      EffectReadOnly, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := docker(ctx, "ps", "--format", "{{.ID}} {{.Image}} {{.Status}}")
			if err != nil {
				return nil, err
			}
			return map[string]any{"containers": strings.Split(strings.TrimSpace(out), "\n")}, nil
		},
	})
}

func registerNetworkOps(r *Registry, sb *sandbox.Sandbox) {
	r.MustRegister(&Operation{
		Tool: "NetworkOps", Action: "fetch",
		Description: "Fetch a URL",
		Required:    []string{"url"},
		Effect:      EffectReadOnly, Runtime: RuntimeSlow,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			url := stringArg(args, "url")
			out, err := sb.RunSubprocess(ctx, []string{"curl", "-fsSL", "--max-time", "60", url}, "", nil, 90*time.Second)
			if err != nil {
				return nil, err
			}
			return map[string]any{"url": url, "body": out, "bytes": len(out)}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "NetworkOps", Action: "download",
		Description: "Download a URL to a file",
		Required:    []string{"url", "destination"},
		Effect:      EffectCreate, Runtime: RuntimeSlow,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			url := stringArg(args, "url")
			dst := expand(stringArg(args, "destination"))
			if err := sb.Authorize(dst, true); err != nil {
				return nil, err
			}
			if _, err := sb.RunSubprocess(ctx, []string{"curl", "-fsSL", "-o", dst, url}, "", nil, 0); err != nil {
				return nil, err
			}
			return map[string]any{"url": url, "destination": dst}, nil
		},
	})
}
