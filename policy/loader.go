package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Load compiles the policy at path, a .rego file or a directory of them.
// An empty path loads the embedded default policy.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx)
	}

	tracer := otel.Tracer("policy-loader")
	ctx, span := tracer.Start(ctx, "policy_loader.load",
		trace.WithAttributes(attribute.String("policy.path", path)))
	defer span.End()

	modules, err := readModules(path)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no .rego files in %s", path)
	}
	return NewEngine(ctx, modules...)
}

func readModules(path string) ([]Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("policy path: %w", err)
	}
	if !info.IsDir() {
		m, err := readModule(path)
		if err != nil {
			return nil, err
		}
		return []Module{m}, nil
	}

	root := filepath.Clean(path)
	var modules []Module
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".rego") {
			return nil
		}
		if err := validateFilePath(root, p); err != nil {
			return fmt.Errorf("invalid file path %s: %w", p, err)
		}
		m, err := readModule(p)
		if err != nil {
			return err
		}
		m.Name, _ = filepath.Rel(root, p)
		modules = append(modules, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules, nil
}

func readModule(path string) (Module, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Module{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return Module{Name: filepath.Base(path), Source: string(content)}, nil
}

func validateFilePath(root, path string) error {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}
	return nil
}
