// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/cellkernel/pkg/ux"
	"github.com/AleutianAI/cellkernel/services/kernel"
	store "github.com/AleutianAI/cellkernel/services/kernel/storage/badger"
)

// modulesDir is the notebook subdirectory loaded into the module store.
const modulesDir = "modules"

type runFlags struct {
	notebooks   bool
	echo        bool
	save        bool
	stopOnError bool
	timeout     time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <cells...>",
		Short: "Run cell files in order against one session",
		Long: `Runs each cell file in order against a fresh session using the dry-run
evaluator, then prints the session's scope keys.

With --notebooks every argument is a directory holding one notebook: its
*.js files are the cells, in name order, and files under modules/ are
stored as sandbox modules. Notebooks run concurrently, one session each.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, modules, err := a.newKernel(f.echo)
			if err != nil {
				return err
			}
			p := a.printer(cmd.OutOrStdout())
			if !f.notebooks {
				return runNotebook(cmd.Context(), k, "", args, p, f)
			}
			return runNotebooks(cmd.Context(), k, modules, args, p, f)
		},
	}
	cmd.Flags().BoolVar(&f.notebooks, "notebooks", false, "treat each argument as a notebook directory")
	cmd.Flags().BoolVar(&f.echo, "show-code", false, "print the transformed code of each cell")
	cmd.Flags().BoolVar(&f.save, "save", false, "persist a snapshot of each session afterwards")
	cmd.Flags().BoolVar(&f.stopOnError, "stop-on-error", false, "skip the remaining cells after a failure")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-cell timeout (0 uses kernel.default_timeout)")
	return cmd
}

// runNotebook runs cells in order against one new session and prints the
// outcome of each cell and the final scope keys.
func runNotebook(ctx context.Context, k *kernel.Kernel, sandboxRoot string, cells []string, p *ux.Printer, f runFlags) error {
	id, err := k.CreateSession(nil, sandboxRoot)
	if err != nil {
		return err
	}
	defer func() { _ = k.DestroySession(id) }()

	failed := 0
	for _, cell := range cells {
		source, err := os.ReadFile(cell)
		if err != nil {
			return err
		}
		res, err := k.Execute(ctx, id, string(source), kernel.ExecOptions{Timeout: f.timeout, Output: p.Writer()})
		if err != nil {
			return fmt.Errorf("%s: %w", cell, err)
		}
		name := filepath.Base(cell)
		if !res.Success {
			failed++
			p.ErrorBox(name, res.Error)
			if f.stopOnError || res.Aborted() {
				break
			}
			continue
		}
		p.Success(fmt.Sprintf("%s %s", name, describeNames(res)))
	}

	scope, err := k.GetScope(id)
	if err != nil {
		return err
	}
	p.Title("Scope")
	p.List(scope.Keys())

	if f.save {
		snapID, ok, err := k.SaveSnapshot(ctx, id)
		switch {
		case err != nil:
			return err
		case !ok:
			p.Warning("scope holds functions; snapshot not saved")
		default:
			p.Success("snapshot " + snapID)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d cells failed", failed, len(cells))
	}
	return nil
}

func describeNames(res *kernel.CellResult) string {
	var parts []string
	if len(res.NonMutableNames) > 0 {
		parts = append(parts, "const "+strings.Join(res.NonMutableNames, ", "))
	}
	if len(res.MutableNames) > 0 {
		parts = append(parts, "mutable "+strings.Join(res.MutableNames, ", "))
	}
	if len(parts) == 0 {
		return "(no bindings)"
	}
	return strings.Join(parts, "; ")
}

// runNotebooks runs every notebook directory concurrently and prints their
// buffered output in argument order.
func runNotebooks(ctx context.Context, k *kernel.Kernel, modules *store.ModuleStore, dirs []string, p *ux.Printer, f runFlags) error {
	outputs := make([]bytes.Buffer, len(dirs))
	failures := make([]error, len(dirs))

	g, gctx := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		g.Go(func() error {
			root, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			cells, err := notebookCells(root)
			if err != nil {
				return err
			}
			if err := loadModules(gctx, modules, root); err != nil {
				return err
			}
			np := p.To(&outputs[i])
			np.Title(dir)
			failures[i] = runNotebook(gctx, k, root, cells, np, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var errs []error
	for i, dir := range dirs {
		if _, err := p.Writer().Write(outputs[i].Bytes()); err != nil {
			return err
		}
		if failures[i] != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, failures[i]))
		}
	}
	return errors.Join(errs...)
}

func notebookCells(dir string) ([]string, error) {
	cells, err := filepath.Glob(filepath.Join(dir, "*.js"))
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%s: no *.js cells", dir)
	}
	sort.Strings(cells)
	return cells, nil
}

// loadModules stores every file under dir/modules in the module store with
// dir as the sandbox root.
func loadModules(ctx context.Context, modules *store.ModuleStore, dir string) error {
	base := filepath.Join(dir, modulesDir)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = modules.Put(ctx, dir, filepath.ToSlash(rel), string(source))
		return err
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
