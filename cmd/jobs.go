/*
Copyright 2024 Rosync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// jobsCommands defines the "jobs" command group: manual triggers for the
// replication and maintenance work the workers normally run from the queue.
func jobsCommands(b *rosyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "run one-off rosync jobs",
	}

	cmd.AddCommand(pushJobCommand(b))
	cmd.AddCommand(pullJobCommand(b))
	cmd.AddCommand(moveJobCommand(b))
	cmd.AddCommand(recoverDeliveriesJobCommand(b))
	cmd.AddCommand(sweepFollowUpsJobCommand(b))

	return cmd
}

func pushJobCommand(b *rosyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "push [ro-number...]",
		Short: "push the given repair orders to the active sheet",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			roNumbers := make([]int64, 0, len(args))
			for _, arg := range args {
				ro, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					log.Fatalf("invalid RO number %q: %v", arg, err)
				}
				roNumbers = append(roNumbers, ro)
			}

			result, err := b.rosync.Push(context.Background(), roNumbers)
			if err != nil {
				log.Fatalf("push failed: %v", err)
			}

			log.Printf("push complete: %d updated, %d added, %d skipped, %d row errors",
				result.Updated, result.Added, result.Skipped, len(result.RowErrors))
			for _, rowErr := range result.RowErrors {
				log.Printf("  row error: %v", rowErr)
			}
		},
	}
}

func pullJobCommand(b *rosyncInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "pull the active sheet into the store",
		Run: func(cmd *cobra.Command, args []string) {
			result, err := b.rosync.Pull(context.Background())
			if err != nil {
				log.Fatalf("pull failed: %v", err)
			}

			log.Printf("pull complete: %d created, %d updated, %d skipped, %d row errors",
				result.Created, result.Updated, result.Skipped, len(result.RowErrors))
			for _, rowErr := range result.RowErrors {
				log.Printf("  row error: %v", rowErr)
			}
		},
	}
}

func moveJobCommand(b *rosyncInstance) *cobra.Command {
	var roNumber int64
	var from, to string

	cmd := &cobra.Command{
		Use:   "move",
		Short: "move a repair order's row between sheets",
		Run: func(cmd *cobra.Command, args []string) {
			result, err := b.rosync.Move(context.Background(), roNumber, from, to)
			if err != nil {
				log.Fatalf("move failed: %v", err)
			}

			log.Printf("move complete: RO %d -> %s row %d (source deleted: %v)",
				result.RONumber, result.DestinationSheet, result.DestinationRow, result.SourceRowDeleted)
		},
	}

	cmd.Flags().Int64Var(&roNumber, "ro", 0, "RO number to move")
	cmd.Flags().StringVar(&from, "from", "", "source sheet")
	cmd.Flags().StringVar(&to, "to", "", "destination sheet")
	_ = cmd.MarkFlagRequired("ro")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func recoverDeliveriesJobCommand(b *rosyncInstance) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "recover-deliveries",
		Short: "re-enqueue approved notifications stuck without a delivery",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := b.rosync.RecoverStaleDeliveries(context.Background(), olderThan)
			if err != nil {
				log.Fatalf("recovery failed: %v", err)
			}
			log.Printf("stale delivery recovery complete: %d notifications processed", n)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "recover deliveries approved longer ago than this")

	return cmd
}

func sweepFollowUpsJobCommand(b *rosyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep-followups",
		Short: "re-arm follow-up waits for overdue records without a pending wake",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := b.rosync.SweepDueFollowUps(context.Background(), time.Now())
			if err != nil {
				log.Fatalf("follow-up sweep failed: %v", err)
			}
			log.Printf("follow-up sweep complete: %d records re-armed", n)
		},
	}

	return cmd
}
