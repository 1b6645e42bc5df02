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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/cellkernel/pkg/ux"
	"github.com/AleutianAI/cellkernel/services/kernel"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

const (
	promptCell     = "cell> "
	promptContinue = "...   "
)

var metaCommands = []string{
	":fork", ":help", ":quit", ":reset", ":restore", ":save", ":scope", ":sessions", ":snapshot",
}

var errQuit = errors.New("quit")

func newReplCmd(a *app) *cobra.Command {
	var sandboxRoot string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session against the dry-run evaluator",
		Long: `Starts a line-edited session. End a line with "\" to continue a cell on
the next line. Lines starting with ":" are commands; ":help" lists them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, _, err := a.newKernel(true)
			if err != nil {
				return err
			}
			id, err := k.CreateSession(nil, sandboxRoot)
			if err != nil {
				return err
			}
			r := &repl{k: k, session: id, p: a.printer(cmd.OutOrStdout()), log: a.log()}
			return r.loop(cmd.Context(), historyPath(a.configPath))
		},
	}
	cmd.Flags().StringVar(&sandboxRoot, "sandbox", "", "sandbox root for local imports")
	return cmd
}

func historyPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "repl_history")
}

// repl is the command interpreter behind the line editor.
type repl struct {
	k       *kernel.Kernel
	session string
	p       *ux.Printer
	log     *slog.Logger
}

func (r *repl) loop(ctx context.Context, history string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, c := range metaCommands {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
			}
		}
		return out
	})

	if f, err := os.Open(history); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			r.log.Debug("history not saved", slog.String("error", err.Error()))
			return
		}
		defer f.Close()
		_, _ = line.WriteHistory(f)
	}()

	r.p.Title("cellkernel " + version)
	r.p.Muted(`Type JavaScript cells, ":help" for commands.`)

	var buf []string
	for ctx.Err() == nil {
		prompt := promptCell
		if len(buf) > 0 {
			prompt = promptContinue
		}
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			buf = nil
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if rest, ok := strings.CutSuffix(input, `\`); ok {
			buf = append(buf, rest)
			continue
		}
		buf = append(buf, input)
		cell := strings.Join(buf, "\n")
		buf = nil
		if strings.TrimSpace(cell) == "" {
			continue
		}
		line.AppendHistory(cell)

		if err := r.handle(ctx, cell); errors.Is(err, errQuit) {
			return nil
		} else if err != nil {
			r.p.Error(err.Error())
		}
	}
	return nil
}

// handle runs one cell or meta command. It returns errQuit for ":quit".
func (r *repl) handle(ctx context.Context, input string) error {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, ":") {
		return r.execute(ctx, input)
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case ":quit", ":q":
		return errQuit
	case ":help":
		r.p.List(metaCommands)
		return nil
	case ":scope":
		return r.showScope()
	case ":reset":
		if err := r.k.ResetSession(r.session, fields[1:]); err != nil {
			return err
		}
		r.p.Success("session reset")
		return nil
	case ":fork":
		id, err := r.k.ForkSession(r.session, kernel.ForkOptions{})
		if err != nil {
			return err
		}
		r.session = id
		r.p.Success("switched to fork " + id)
		return nil
	case ":snapshot":
		snap, ok, err := r.k.SnapshotSession(r.session)
		if err != nil {
			return err
		}
		if !ok {
			r.p.Warning("scope holds functions and cannot be copied")
			return nil
		}
		r.p.Success(fmt.Sprintf("scope copies cleanly (%d bindings)", len(snap)))
		return nil
	case ":save":
		id, ok, err := r.k.SaveSnapshot(ctx, r.session)
		if err != nil {
			return err
		}
		if !ok {
			r.p.Warning("scope holds functions; snapshot not saved")
			return nil
		}
		r.p.Success("snapshot " + id)
		return nil
	case ":restore":
		if len(fields) != 2 {
			return errors.New("usage: :restore <snapshot-id>")
		}
		id, err := r.k.RestoreSnapshot(ctx, fields[1])
		if err != nil {
			return err
		}
		r.session = id
		r.p.Success("switched to restored session " + id)
		return nil
	case ":sessions":
		return r.showSessions()
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

func (r *repl) execute(ctx context.Context, cell string) error {
	res, err := r.k.Execute(ctx, r.session, cell, kernel.ExecOptions{Output: r.p.Writer()})
	if err != nil {
		return err
	}
	if !res.Success {
		r.p.ErrorBox(res.CellID, res.Error)
		return nil
	}
	r.p.Muted(fmt.Sprintf("%s %s in %s", res.CellID, describeNames(res), res.Duration.Round(time.Microsecond)))
	return nil
}

func (r *repl) showScope() error {
	scope, err := r.k.GetScope(r.session)
	if err != nil {
		return err
	}
	s, err := r.k.GetSession(r.session)
	if err != nil {
		return err
	}
	mutable := map[string]bool{}
	for _, name := range s.MutableKeys() {
		mutable[name] = true
	}

	rows := make(map[string]string, len(scope))
	for name, v := range scope {
		text := value.Format(v)
		if !mutable[name] {
			text += "  (const)"
		}
		rows[name] = text
	}
	if len(rows) == 0 {
		r.p.Info("scope is empty")
		return nil
	}
	r.p.KeyValues(rows)
	return nil
}

func (r *repl) showSessions() error {
	infos := r.k.ListSessions()
	lines := make([]string, 0, len(infos))
	for _, info := range infos {
		marker := " "
		if info.ID == r.session {
			marker = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s executions=%d", marker, info.ID, info.State, info.Executions))
	}
	r.p.List(lines)
	return nil
}
