package main

import (
	"github.com/spf13/cobra"
)

// Flags shared by several subcommands. They are read back by name so only
// explicitly set flags override the config file.

func addModelFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("model", "", "Base model artifact (.born)")
	f.String("checkpoint-dir", "", "Checkpoint directory")
	f.String("checkpoint", "", `Checkpoint handle to load, or "latest"`)
	f.Int("workers", 0, "Forward-pass workers (0 = one per CPU)")
}

func (a *app) applyModelFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	m := &a.cfg.Model
	if f.Changed("model") {
		m.Path, _ = f.GetString("model")
	}
	if f.Changed("checkpoint-dir") {
		m.CheckpointDir, _ = f.GetString("checkpoint-dir")
	}
	if f.Changed("checkpoint") {
		m.Checkpoint, _ = f.GetString("checkpoint")
	}
	if f.Changed("workers") {
		m.Workers, _ = f.GetInt("workers")
	}
}

func addTrainFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("dataset", "", "Fine-tuning dataset (.fasta, .tsv, .csv)")
	f.String("default-ec", "", "EC code for dataset records without one")
	f.Int("epochs", 0, "Training epochs")
	f.Float32("learning-rate", 0, "Learning rate")
	f.String("resume", "", `Checkpoint handle to resume from, or "latest"`)
}

func (a *app) applyTrainFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	t := &a.cfg.Train
	if f.Changed("dataset") {
		t.DatasetPath, _ = f.GetString("dataset")
	}
	if f.Changed("default-ec") {
		t.DefaultEC, _ = f.GetString("default-ec")
	}
	if f.Changed("epochs") {
		t.Epochs, _ = f.GetInt("epochs")
	}
	if f.Changed("learning-rate") {
		t.LearningRate, _ = f.GetFloat32("learning-rate")
	}
	if f.Changed("resume") {
		t.Resume, _ = f.GetString("resume")
	}
}

func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("output", "o", "", "Output path: .fasta, .tsv, .csv, .db, or a directory ending in /")
	f.String("ledger", "", "SQLite run ledger")
}

func (a *app) applyOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("output") {
		a.cfg.Output.Path, _ = f.GetString("output")
	}
	if f.Changed("ledger") {
		a.cfg.Output.Ledger, _ = f.GetString("ledger")
	}
}
