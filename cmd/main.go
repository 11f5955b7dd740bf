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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tevinmoore/rosync"
	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/database"
	"github.com/tevinmoore/rosync/internal/notification"
)

// Rosync represents the CLI application, encapsulating the root Cobra command.
type Rosync struct {
	cmd *cobra.Command
}

// rosyncInstance holds the service instance and its configuration, shared by
// every subcommand.
type rosyncInstance struct {
	rosync *rosync.Rosync
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the service instance
// before running any command.
func preRun(app *rosyncInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("rosync.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRosync, err := setupRosync(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.rosync = newRosync
		app.cnf = cnf

		return nil
	}
}

// setupRosync creates and initializes the service from the configuration.
func setupRosync(cfg *config.Configuration) (*rosync.Rosync, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newRosync, err := rosync.NewRosync(db)
	if err != nil {
		return nil, fmt.Errorf("error creating rosync: %v", err)
	}
	return newRosync, nil
}

// NewCLI creates the command-line interface for the application.
func NewCLI() *Rosync {
	var configFile string
	b := &rosyncInstance{}

	var rootCmd = &cobra.Command{
		Use:   "rosync",
		Short: "Repair-order replication and follow-up engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./rosync.json", "Configuration file for rosync")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(jobsCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Rosync{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur.
func (w Rosync) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
