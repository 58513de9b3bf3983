package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/util/keygen"
)

const generatedKeyBits = 4096

// Factory function variables for config handling - can be replaced in tests.
var (
	// fileExists checks if a file exists.
	fileExists = func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	// runWizard runs the interactive configuration wizard.
	runWizard = config.RunWizard

	// saveConfig writes the config to a file.
	saveConfig = config.Save

	// backupConfig preserves the config under a timestamped name.
	backupConfig = config.Backup

	// generateKeyPair creates a fresh SSH key pair.
	generateKeyPair = keygen.GenerateRSAKeyPair
)

// ConfigInit runs the configuration wizard and writes the result.
//
// When the wizard's key paths point at files that do not exist yet, a
// fresh RSA key pair is generated and written there, private key with
// owner-only permissions. Existing key files are left untouched.
func ConfigInit(ctx context.Context, outputPath string) error {
	if fileExists(outputPath) {
		fmt.Printf("Warning: %s already exists and will be overwritten.\n\n", outputPath)
	}

	printWelcome()

	cfg, err := runWizard(ctx, nil)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}
	completeWizardConfig(cfg)

	generated, err := ensureKeyPair(cfg)
	if err != nil {
		return err
	}

	if err := saveConfig(cfg, outputPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printInitSuccess(outputPath, cfg, generated)
	return nil
}

// ConfigEdit re-runs the wizard pre-filled with an existing config.
// The original file is preserved as a timestamped .bak copy before
// anything is written.
func ConfigEdit(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = defaultConfigFile
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	updated, err := runWizard(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}
	completeWizardConfig(updated)

	backupPath, err := backupConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to back up config: %w", err)
	}

	if err := saveConfig(updated, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration updated: %s\n", configPath)
	fmt.Printf("Previous version kept: %s\n", backupPath)
	return nil
}

// completeWizardConfig fills the pieces the wizard does not ask about:
// key file locations derived from the cluster name, and the manifest
// store a scratch stack needs.
func completeWizardConfig(cfg *config.Config) {
	if cfg.SSH.PrivateKeyPath == "" {
		cfg.SSH.PrivateKeyPath = cfg.ClusterName + "_rsa"
	}
	if cfg.SSH.PublicKeyPath == "" {
		cfg.SSH.PublicKeyPath = cfg.SSH.PrivateKeyPath + ".pub"
	}

	if cfg.Scratch != nil && cfg.ObjectStore == nil {
		cfg.ObjectStore = &config.ObjectStoreSpec{
			Endpoint:     fmt.Sprintf("https://%s.your-objectstorage.com", cfg.Location),
			Region:       cfg.Location,
			AccessKeyEnv: "STRAND_S3_ACCESS_KEY",
			SecretKeyEnv: "STRAND_S3_SECRET_KEY",
		}
	}
}

// ensureKeyPair generates the SSH key pair when neither file exists.
// Reports whether a pair was generated.
func ensureKeyPair(cfg *config.Config) (bool, error) {
	if fileExists(cfg.SSH.PrivateKeyPath) || fileExists(cfg.SSH.PublicKeyPath) {
		return false, nil
	}

	pair, err := generateKeyPair(generatedKeyBits)
	if err != nil {
		return false, fmt.Errorf("failed to generate SSH key pair: %w", err)
	}

	for _, dir := range []string{filepath.Dir(cfg.SSH.PrivateKeyPath), filepath.Dir(cfg.SSH.PublicKeyPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return false, fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	if err := writeFile(cfg.SSH.PrivateKeyPath, pair.PrivateKey, 0o600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := writeFile(cfg.SSH.PublicKeyPath, pair.PublicKey, 0o644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}
	return true, nil
}

// printWelcome prints the welcome message.
func printWelcome() {
	fmt.Println()
	fmt.Println("strand - ephemeral compute clusters on Hetzner Cloud")
	fmt.Println("====================================================")
	fmt.Println()
	fmt.Println("This wizard creates a cluster configuration with sensible defaults.")
	fmt.Println("Every value can be edited later with 'strand config edit'.")
	fmt.Println()
}

// printInitSuccess prints the success message with summary and next steps.
func printInitSuccess(outputPath string, cfg *config.Config, generatedKeys bool) {
	fmt.Println()
	fmt.Println("Configuration saved!")
	fmt.Println()
	fmt.Printf("  File: %s\n", outputPath)
	if generatedKeys {
		fmt.Printf("  SSH keys generated: %s, %s\n", cfg.SSH.PrivateKeyPath, cfg.SSH.PublicKeyPath)
	}
	fmt.Println()

	fmt.Println("Cluster Summary")
	fmt.Println("---------------")
	fmt.Printf("  Name:     %s\n", cfg.ClusterName)
	fmt.Printf("  Location: %s\n", cfg.Location)
	fmt.Printf("  Head:     1 x %s\n", cfg.Head.ServerType)
	fmt.Printf("  Compute:  %d x %s\n", cfg.Compute.Count, cfg.Compute.ServerType)
	fmt.Printf("  Volume:   %dGB shared over NFS\n", cfg.Volume.SizeGB)
	if cfg.Scratch != nil {
		fmt.Printf("  Scratch:  %d x %s, %d targets each\n", cfg.Scratch.NodeCount, cfg.Scratch.ServerType, cfg.Scratch.TargetsPerNode)
	}
	fmt.Println()

	fmt.Println("Next Steps")
	fmt.Println("----------")
	fmt.Println("  1. Set your Hetzner Cloud API token:")
	fmt.Println("     export HCLOUD_TOKEN=<your-token>")
	fmt.Println()
	fmt.Printf("  2. Review %s if needed\n", outputPath)
	fmt.Println()
	fmt.Println("  3. Create your cluster:")
	fmt.Printf("     strand create\n")
	fmt.Println()
}
