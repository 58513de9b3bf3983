package config

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
)

// serverTypeOptions are the instance types offered by the wizard.
// Shared vCPU x86 types, smallest first.
func serverTypeOptions() []huh.Option[string] {
	return []huh.Option[string]{
		huh.NewOption("CX22 - 2 vCPU, 4GB RAM", "cx22"),
		huh.NewOption("CX32 - 4 vCPU, 8GB RAM", "cx32"),
		huh.NewOption("CX42 - 8 vCPU, 16GB RAM", "cx42"),
		huh.NewOption("CX52 - 16 vCPU, 32GB RAM", "cx52"),
		huh.NewOption("CPX31 - 4 vCPU, 8GB RAM", "cpx31"),
		huh.NewOption("CPX41 - 8 vCPU, 16GB RAM", "cpx41"),
		huh.NewOption("CPX51 - 16 vCPU, 32GB RAM", "cpx51"),
	}
}

// RunWizard walks the user through the cluster settings that matter most:
// name, node sizing, shared storage size, and whether a scratch stack is
// wanted. When editing, pass the current config so answers default to the
// existing values; pass nil to start from the package defaults.
func RunWizard(ctx context.Context, current *Config) (*Config, error) {
	cfg := &Config{}
	if current != nil {
		*cfg = *current
		if current.Scratch != nil {
			scratchCopy := *current.Scratch
			cfg.Scratch = &scratchCopy
		}
		if current.ObjectStore != nil {
			storeCopy := *current.ObjectStore
			cfg.ObjectStore = &storeCopy
		}
	}
	cfg.ApplyDefaults()

	volumeSize := strconv.Itoa(cfg.Volume.SizeGB)
	computeCount := strconv.Itoa(cfg.Compute.Count)
	wantScratch := cfg.Scratch != nil
	scratchSize := strconv.Itoa(DefaultScratchSizeGB)
	if cfg.Scratch != nil {
		scratchSize = strconv.Itoa(cfg.Scratch.SizeGB)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Cluster name").
				Description("Lowercase, digits and hyphens; used as the prefix of every cloud resource").
				Placeholder("my-cluster").
				Value(&cfg.ClusterName).
				Validate(validateWizardName),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Location").
				Description("Datacenter location for every node").
				Options(
					huh.NewOption("Falkenstein, Germany (fsn1)", "fsn1"),
					huh.NewOption("Nuremberg, Germany (nbg1)", "nbg1"),
					huh.NewOption("Helsinki, Finland (hel1)", "hel1"),
				).
				Value(&cfg.Location),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Head node size").
				Description("The head node serves shared storage to every compute node").
				Options(serverTypeOptions()...).
				Value(&cfg.Head.ServerType),

			huh.NewInput().
				Title("Shared storage size (GB)").
				Description("Data volume exported from the head node").
				Value(&volumeSize).
				Validate(validateWizardInt(10, 10240)),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Compute node count").
				Description("0 runs jobs on the head node alone").
				Value(&computeCount).
				Validate(validateWizardInt(0, 64)),

			huh.NewSelect[string]().
				Title("Compute node size").
				Options(serverTypeOptions()...).
				Value(&cfg.Compute.ServerType),
		),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Provision a scratch filesystem stack?").
				Description("A separately-lifecycled high-throughput filesystem for intermediate data").
				Value(&wantScratch),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Scratch stack size (GB)").
				Description("Total capacity across all stack nodes").
				Value(&scratchSize).
				Validate(validateWizardInt(100, 65536)),
		).WithHideFunc(func() bool { return !wantScratch }),
	)

	if err := form.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("wizard canceled: %w", err)
	}

	cfg.Volume.SizeGB, _ = strconv.Atoi(volumeSize)
	cfg.Compute.Count, _ = strconv.Atoi(computeCount)

	if wantScratch {
		if cfg.Scratch == nil {
			cfg.Scratch = &ScratchSpec{}
		}
		cfg.Scratch.SizeGB, _ = strconv.Atoi(scratchSize)
	} else {
		cfg.Scratch = nil
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func validateWizardName(s string) error {
	if s == "" {
		return fmt.Errorf("cluster name is required")
	}
	if !clusterNamePattern.MatchString(s) {
		return fmt.Errorf("lowercase letters, digits and hyphens only")
	}
	return nil
}

func validateWizardInt(minVal, maxVal int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("enter a number")
		}
		if n < minVal || n > maxVal {
			return fmt.Errorf("must be between %d and %d", minVal, maxVal)
		}
		return nil
	}
}
