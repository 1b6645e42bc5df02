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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/cellkernel/services/kernel/value"
	store "github.com/AleutianAI/cellkernel/services/kernel/storage/badger"
)

func newSnapshotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect persisted session snapshots",
	}

	list := &cobra.Command{
		Use:   "list [session-id]",
		Short: "List snapshots, optionally of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := a.snapshotStore()
			if err != nil {
				return err
			}
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			recs, err := snapshots.List(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			p := a.printer(cmd.OutOrStdout())
			if len(recs) == 0 {
				p.Info("no snapshots")
				return nil
			}
			lines := make([]string, 0, len(recs))
			for _, rec := range recs {
				lines = append(lines, fmt.Sprintf("%s  session=%s  bindings=%d  %s",
					rec.ID, rec.SessionID, len(rec.Scope), rec.CreatedAt.Format(time.RFC3339)))
			}
			p.List(lines)
			return nil
		},
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Print one snapshot's bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := a.snapshotStore()
			if err != nil {
				return err
			}
			rec, err := snapshots.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				scope, err := value.MarshalScope(rec.Scope)
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(struct {
					ID          string          `json:"id"`
					SessionID   string          `json:"sessionId"`
					Scope       json.RawMessage `json:"scope"`
					MutableKeys []string        `json:"mutableKeys"`
				}{rec.ID, rec.SessionID, scope, rec.MutableKeys})
			}

			p := a.printer(cmd.OutOrStdout())
			p.Title("Snapshot " + rec.ID)
			p.Info("session " + rec.SessionID)
			if rec.SandboxRoot != "" {
				p.Info("sandbox " + rec.SandboxRoot)
			}
			p.Info("mutable " + strings.Join(rec.MutableKeys, ", "))
			rows := make(map[string]string, len(rec.Scope))
			for name, v := range rec.Scope {
				rows[name] = value.Format(v)
			}
			p.KeyValues(rows)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")

	del := &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := a.snapshotStore()
			if err != nil {
				return err
			}
			if err := snapshots.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer(cmd.OutOrStdout()).Success("deleted " + args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func (a *app) snapshotStore() (*store.SnapshotStore, error) {
	db, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return store.NewSnapshotStore(db), nil
}
