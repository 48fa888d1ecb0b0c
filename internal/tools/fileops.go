package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"zenus/internal/sandbox"
)

// RegisterFileOps wires the FileOps family into the registry.
func RegisterFileOps(r *Registry, sb *sandbox.Sandbox) {
	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "scan",
		Description: "List directory entries",
		Required:    []string{"path"},
		Effect:      EffectReadOnly, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path := stringArg(args, "path")
			if err := sb.Authorize(path, false); err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(expand(path))
			if err != nil {
				return nil, fmt.Errorf("scan failed: %w", err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			sort.Strings(names)
			return map[string]any{"entries": names, "count": len(names)}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "read_file",
		Description: "Read a file's contents",
		Required:    []string{"path"},
		Effect:      EffectReadOnly, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path := stringArg(args, "path")
			if err := sb.Authorize(path, false); err != nil {
				return nil, err
			}
			data, err := os.ReadFile(expand(path))
			if err != nil {
				return nil, fmt.Errorf("read failed: %w", err)
			}
			return map[string]any{"content": string(data), "bytes": len(data)}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "create_file",
		Description: "Create a new file (fails if it exists)",
		Required:    []string{"path"},
		Effect:      EffectCreate, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path := expand(stringArg(args, "path"))
			if err := sb.Authorize(path, true); err != nil {
				return nil, err
			}
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("create failed: %s already exists", path)
			}
			content := stringArg(args, "content")
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("create failed: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return nil, fmt.Errorf("create failed: %w", err)
			}
			return map[string]any{"path": path, "bytes": len(content)}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "write_file",
		Description: "Write (overwrite) a file",
		Required:    []string{"path", "content"},
		Effect:      EffectOverwrite, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path := expand(stringArg(args, "path"))
			if err := sb.Authorize(path, true); err != nil {
				return nil, err
			}
			content := stringArg(args, "content")
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("write failed: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return nil, fmt.Errorf("write failed: %w", err)
			}
			return map[string]any{"path": path, "bytes": len(content)}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "copy_file",
		Description: "Copy a file",
		Required:    []string{"source", "destination"},
		Effect:      EffectCreate, Runtime: RuntimeIO,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			src := expand(stringArg(args, "source"))
			dst := expand(stringArg(args, "destination"))
			if err := sb.Authorize(src, false); err != nil {
				return nil, err
			}
			if err := sb.Authorize(dst, true); err != nil {
				return nil, err
			}
			n, err := copyFile(src, dst)
			if err != nil {
				return nil, fmt.Errorf("copy failed: %w", err)
			}
			return map[string]any{"source": src, "destination": dst, "bytes": n}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "move_file",
		Description: "Move or rename a file",
		Required:    []string{"source", "destination"},
		Effect:      EffectCreate, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			src := expand(stringArg(args, "source"))
			dst := expand(stringArg(args, "destination"))
			if err := sb.Authorize(src, true); err != nil {
				return nil, err
			}
			if err := sb.Authorize(dst, true); err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return nil, fmt.Errorf("move failed: %w", err)
			}
			if err := os.Rename(src, dst); err != nil {
				// Cross-device moves fall back to copy+remove.
				if _, cpErr := copyFile(src, dst); cpErr != nil {
					return nil, fmt.Errorf("move failed: %w", err)
				}
				if rmErr := os.Remove(src); rmErr != nil {
					return nil, fmt.Errorf("move failed removing source: %w", rmErr)
				}
			}
			return map[string]any{"source": src, "destination": dst}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "delete_file",
		Description: "Delete a file",
		Required:    []string{"path"},
		Effect:      EffectDelete, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path := expand(stringArg(args, "path"))
			if err := sb.Authorize(path, true); err != nil {
				return nil, err
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("delete failed: %w", err)
			}
			return map[string]any{"path": path, "deleted": true}, nil
		},
	})

	r.MustRegister(&Operation{
		Tool: "FileOps", Action: "create_directory",
		Description: "Create a directory (parents included)",
		Required:    []string{"path"},
		Effect:      EffectCreate, Runtime: RuntimeFast,
		Invoke: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path := expand(stringArg(args, "path"))
			if err := sb.Authorize(path, true); err != nil {
				return nil, err
			}
			if err := os.MkdirAll(path, 0755); err != nil {
				return nil, fmt.Errorf("mkdir failed: %w", err)
			}
			return map[string]any{"path": path, "created": true}, nil
		},
	})
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Sync()
}

func expand(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
